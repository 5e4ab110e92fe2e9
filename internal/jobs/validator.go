package jobs

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"photojobs/internal/domain"
	"photojobs/internal/domain/jsoncfg"
)

// Validation error codes returned to clients.
const (
	CodeMissingInputReference  = "MISSING_INPUT_REFERENCE"
	CodeInvalidInputReference  = "INVALID_INPUT_REFERENCE"
	CodeInputHostNotAllowed    = "INPUT_HOST_NOT_ALLOWED"
	CodeUnsupportedImageFormat = "UNSUPPORTED_IMAGE_FORMAT"
	CodeInvalidImageType       = "INVALID_IMAGE_TYPE"
	CodeInvalidSettings        = "INVALID_SETTINGS"
)

const (
	MaxInputReferenceLength = 2048
	MaxSettingsBytes        = 4 << 10
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".heic": {},
}

// SubmitRequest is the raw submission as received from a client.
type SubmitRequest struct {
	InputReference string          `json:"inputReference"`
	JobType        string          `json:"jobType"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	Locale         string          `json:"-"`
}

// NormalizedRequest is a submission that passed validation.
type NormalizedRequest struct {
	InputReference string
	JobType        domain.JobType
	Settings       jsoncfg.Settings
	RawSettings    json.RawMessage
	Owner          domain.Principal
	Locale         string
}

// ValidatorOptions tunes what the validator accepts.
type ValidatorOptions struct {
	AllowAnonymous bool
	HostAllowlist  []string
}

// Validator checks submissions. It has no side effects.
type Validator struct {
	allowAnonymous bool
	hosts          map[string]struct{}
}

func NewValidator(opts ValidatorOptions) *Validator {
	v := &Validator{allowAnonymous: opts.AllowAnonymous}
	if len(opts.HostAllowlist) > 0 {
		v.hosts = make(map[string]struct{}, len(opts.HostAllowlist))
		for _, h := range opts.HostAllowlist {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				v.hosts[h] = struct{}{}
			}
		}
	}
	return v
}

// Validate returns the first problem found as a *domain.ValidationError, or
// domain.ErrUnauthenticated when no principal can be attributed.
func (v *Validator) Validate(req SubmitRequest, principal domain.Principal) (NormalizedRequest, error) {
	var out NormalizedRequest

	owner, err := v.resolveOwner(principal)
	if err != nil {
		return out, err
	}

	ref, err := v.validateInput(req.InputReference)
	if err != nil {
		return out, err
	}

	jobType, ok := domain.ParseJobType(req.JobType)
	if !ok {
		return out, &domain.ValidationError{
			Field:   "jobType",
			Code:    CodeInvalidImageType,
			Message: "jobType must be one of " + joinTypes(domain.JobTypes()),
		}
	}

	settings, raw, err := validateSettings(req.Settings)
	if err != nil {
		return out, err
	}

	out = NormalizedRequest{
		InputReference: ref,
		JobType:        jobType,
		Settings:       settings,
		RawSettings:    raw,
		Owner:          owner,
		Locale:         strings.TrimSpace(req.Locale),
	}
	return out, nil
}

func (v *Validator) resolveOwner(p domain.Principal) (domain.Principal, error) {
	if !p.IsZero() && !p.IsGuest() {
		return p, nil
	}
	if v.allowAnonymous {
		return domain.GuestPrincipal, nil
	}
	return domain.Principal{}, domain.ErrUnauthenticated
}

func (v *Validator) validateInput(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", &domain.ValidationError{Field: "inputReference", Code: CodeMissingInputReference, Message: "inputReference is required"}
	}
	invalid := &domain.ValidationError{Field: "inputReference", Code: CodeInvalidInputReference, Message: "inputReference must be an absolute http(s) URL"}
	if len(ref) > MaxInputReferenceLength {
		invalid.Message = "inputReference is too long"
		return "", invalid
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || u.User != nil {
		return "", invalid
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", invalid
	}
	if v.hosts != nil {
		if _, ok := v.hosts[u.Hostname()]; !ok {
			return "", &domain.ValidationError{Field: "inputReference", Code: CodeInputHostNotAllowed, Message: "inputReference host is not allowed"}
		}
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if _, ok := imageExtensions[ext]; !ok {
			return "", &domain.ValidationError{Field: "inputReference", Code: CodeUnsupportedImageFormat, Message: "inputReference must be a jpg, jpeg, png, webp or heic image"}
		}
	}
	u.Fragment = ""
	return u.String(), nil
}

func validateSettings(raw json.RawMessage) (jsoncfg.Settings, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > MaxSettingsBytes {
		return jsoncfg.Settings{}, nil, &domain.ValidationError{Field: "settings", Code: CodeInvalidSettings, Message: "settings must be at most 4 KiB"}
	}
	settings, err := jsoncfg.Decode(trimmed)
	if err != nil {
		return jsoncfg.Settings{}, nil, &domain.ValidationError{Field: "settings", Code: CodeInvalidSettings, Message: err.Error()}
	}
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return jsoncfg.Settings{}, nil, &domain.ValidationError{Field: "settings", Code: CodeInvalidSettings, Message: err.Error()}
	}
	return settings, jsoncfg.MustMarshal(settings), nil
}

func joinTypes(types []domain.JobType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

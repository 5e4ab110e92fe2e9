package jobs

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"photojobs/internal/domain"
)

func TestValidatorAcceptsAndNormalizes(t *testing.T) {
	v := NewValidator(ValidatorOptions{})
	got, err := v.Validate(SubmitRequest{
		InputReference: "  HTTPS://Example.COM/photos/A.JPG#frag ",
		JobType:        " Person ",
		Settings:       json.RawMessage(`{"quantity":2}`),
		Locale:         "id-ID",
	}, owner)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if got.InputReference != "https://example.com/photos/A.JPG" {
		t.Fatalf("InputReference = %q", got.InputReference)
	}
	if got.JobType != domain.JobTypePerson {
		t.Fatalf("JobType = %q", got.JobType)
	}
	if got.Owner != owner {
		t.Fatalf("Owner = %+v", got.Owner)
	}
	if got.Settings.Quantity != 2 || got.Settings.AspectRatio != "original" {
		t.Fatalf("Settings = %+v", got.Settings)
	}
	if !strings.Contains(string(got.RawSettings), `"quantity":2`) {
		t.Fatalf("RawSettings = %s", got.RawSettings)
	}
}

func TestValidatorErrors(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", MaxInputReferenceLength) + ".jpg"
	tests := []struct {
		name      string
		opts      ValidatorOptions
		req       SubmitRequest
		principal domain.Principal
		wantCode  string
		wantErr   error
	}{
		{name: "missing input", req: SubmitRequest{JobType: "person"}, principal: owner, wantCode: CodeMissingInputReference},
		{name: "relative url", req: SubmitRequest{InputReference: "/a.jpg", JobType: "person"}, principal: owner, wantCode: CodeInvalidInputReference},
		{name: "ftp scheme", req: SubmitRequest{InputReference: "ftp://example.com/a.jpg", JobType: "person"}, principal: owner, wantCode: CodeInvalidInputReference},
		{name: "credentials in url", req: SubmitRequest{InputReference: "https://u:p@example.com/a.jpg", JobType: "person"}, principal: owner, wantCode: CodeInvalidInputReference},
		{name: "too long", req: SubmitRequest{InputReference: long, JobType: "person"}, principal: owner, wantCode: CodeInvalidInputReference},
		{name: "not an image", req: SubmitRequest{InputReference: "https://example.com/a.pdf", JobType: "person"}, principal: owner, wantCode: CodeUnsupportedImageFormat},
		{name: "host not allowed", opts: ValidatorOptions{HostAllowlist: []string{"cdn.example.com"}}, req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "person"}, principal: owner, wantCode: CodeInputHostNotAllowed},
		{name: "unknown type", req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "not-a-real-type"}, principal: owner, wantCode: CodeInvalidImageType},
		{name: "missing type", req: SubmitRequest{InputReference: "https://example.com/a.jpg"}, principal: owner, wantCode: CodeInvalidImageType},
		{name: "settings not object", req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "pet", Settings: json.RawMessage(`"big"`)}, principal: owner, wantCode: CodeInvalidSettings},
		{name: "settings out of range", req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "pet", Settings: json.RawMessage(`{"quantity":9}`)}, principal: owner, wantCode: CodeInvalidSettings},
		{name: "settings too large", req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "pet", Settings: json.RawMessage(`{"notes":"` + strings.Repeat("x", MaxSettingsBytes) + `"}`)}, principal: owner, wantCode: CodeInvalidSettings},
		{name: "anonymous rejected", req: SubmitRequest{InputReference: "https://example.com/a.jpg", JobType: "person"}, wantErr: domain.ErrUnauthenticated},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator(tc.opts).Validate(tc.req, tc.principal)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", verr.Code, tc.wantCode)
			}
		})
	}
}

func TestValidatorAnonymousBecomesGuest(t *testing.T) {
	v := NewValidator(ValidatorOptions{AllowAnonymous: true})
	got, err := v.Validate(SubmitRequest{InputReference: "https://example.com/a", JobType: "restore"}, domain.Principal{})
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if got.Owner != domain.GuestPrincipal {
		t.Fatalf("Owner = %+v, want guest", got.Owner)
	}
}

package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

// Prediction statuses reported by the API.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// TokenSource looks up the API token at call time.
type TokenSource func(ctx context.Context) (string, error)

// Options configures the Replicate predictions client. APIToken wins over
// TokenSource; a TokenSource result is cached for TokenTTL.
type Options struct {
	APIToken       string
	TokenSource    TokenSource
	TokenTTL       time.Duration
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiToken     string
	tokenSource  TokenSource
	tokenTTL     time.Duration
	now          func() time.Time
	tokenMu      sync.Mutex
	cachedToken  string
	cachedAt     time.Time
	baseURL      string
	model        string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *infra.Logger
}

// PredictionRequest captures the model input for a single prediction.
type PredictionRequest struct {
	Input     map[string]any
	RequestID string
}

// Prediction mirrors the API's prediction object.
type Prediction struct {
	ID     string          `json:"id"`
	Model  string          `json:"model,omitempty"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Logs   string          `json:"logs,omitempty"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// PredictionError reports a prediction that ended without output.
type PredictionError struct {
	ID      string
	Status  string
	Message string
}

func (e *PredictionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("replicate: prediction %s %s", e.ID, e.Status)
	}
	return fmt.Sprintf("replicate: prediction %s %s: %s", e.ID, e.Status, e.Message)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Detail)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("replicate: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("replicate: model is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		apiToken:     strings.TrimSpace(opts.APIToken),
		tokenSource:  opts.TokenSource,
		tokenTTL:     ttl,
		now:          time.Now,
		baseURL:      baseURL,
		model:        model,
		pollInterval: poll,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether a token currently resolves.
func (c *Client) HasCredentials(ctx context.Context) bool {
	token, err := c.token(ctx)
	return err == nil && token != ""
}

// token returns the static token or the cached TokenSource result. Empty
// and failed lookups are not cached so a token stored later is picked up on
// the next call.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.apiToken != "" {
		return c.apiToken, nil
	}
	if c.tokenSource == nil {
		return "", ErrMissingAPIToken
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.cachedToken != "" && c.now().Sub(c.cachedAt) < c.tokenTTL {
		return c.cachedToken, nil
	}
	token, err := c.tokenSource(ctx)
	if err != nil {
		return "", fmt.Errorf("replicate: resolve api token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		c.cachedToken = ""
		return "", ErrMissingAPIToken
	}
	c.cachedToken, c.cachedAt = token, c.now()
	return token, nil
}

// Run creates a prediction and polls it until it reaches a terminal status or
// ctx is done.
func (c *Client) Run(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	pred, err := c.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for !isTerminal(pred.Status) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("replicate: prediction %s: %w", pred.ID, ctx.Err())
		case <-ticker.C:
		}
		if pred, err = c.Get(ctx, pred.ID); err != nil {
			return nil, err
		}
	}
	if pred.Status != StatusSucceeded {
		return nil, &PredictionError{ID: pred.ID, Status: pred.Status, Message: errorMessage(pred.Error)}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("prediction_id", pred.ID).
		Str("request_id", req.RequestID).
		Msg("replicate: prediction succeeded")
	return pred, nil
}

// Create starts a prediction. Models given as "owner/name:version" are
// addressed by version, plain "owner/name" through the model endpoint.
func (c *Client) Create(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if len(req.Input) == 0 {
		return nil, errors.New("replicate: input is required")
	}
	payload := createRequest{Input: req.Input}
	endpoint := c.baseURL + "/predictions"
	if _, version, ok := strings.Cut(c.model, ":"); ok {
		payload.Version = version
	} else {
		endpoint = c.baseURL + "/models/" + c.model + "/predictions"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodPost, endpoint, body, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, id string) (*Prediction, error) {
	var pred Prediction
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		var decoded errorResponse
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Detail != "" {
			detail = decoded.Detail
		}
		return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

// OutputURLs flattens the prediction output into a list of file URLs. Models
// return either a single URL or an array of URLs.
func (p *Prediction) OutputURLs() ([]string, error) {
	if p == nil || len(p.Output) == 0 || string(p.Output) == "null" {
		return nil, errors.New("replicate: prediction has no output")
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single = strings.TrimSpace(single); single == "" {
			return nil, errors.New("replicate: prediction has no output")
		}
		return []string{single}, nil
	}
	var many []any
	if err := json.Unmarshal(p.Output, &many); err != nil {
		return nil, fmt.Errorf("replicate: unexpected output shape: %w", err)
	}
	out := make([]string, 0, len(many))
	for _, v := range many {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("replicate: prediction has no output")
	}
	return out, nil
}

func isTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

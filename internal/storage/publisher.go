package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotLocal is returned when a locator does not point into this store.
var ErrNotLocal = errors.New("storage: locator is not served by this store")

// DefaultMaxArtifactBytes bounds a single downloaded result.
const DefaultMaxArtifactBytes = 25 << 20

// Artifact is one result to persist. Either Data or SourceURL is set.
type Artifact struct {
	SourceURL string
	Data      []byte
}

// Publisher copies processing outputs into the FileStore and returns the
// public locators clients fetch them from.
type Publisher struct {
	store      *FileStore
	baseURL    string
	httpClient *http.Client
	maxBytes   int64
}

// NewPublisher builds a publisher exposing files under baseURL.
func NewPublisher(store *FileStore, baseURL string, httpClient *http.Client) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("storage: file store is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Publisher{store: store, baseURL: baseURL, httpClient: httpClient, maxBytes: DefaultMaxArtifactBytes}, nil
}

// Publish stores every artifact under jobs/<jobID>/ and returns their URLs in
// input order. Any failure aborts the whole publish.
func (p *Publisher) Publish(ctx context.Context, jobID string, artifacts []Artifact) ([]string, error) {
	if len(artifacts) == 0 {
		return nil, errors.New("storage: nothing to publish")
	}
	urls := make([]string, 0, len(artifacts))
	for i, a := range artifacts {
		data := a.Data
		if len(data) == 0 {
			var err error
			if data, err = p.download(ctx, a.SourceURL); err != nil {
				return nil, err
			}
		}
		mt := mimetype.Detect(data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil, fmt.Errorf("storage: artifact %d is %s, not an image", i+1, mt.String())
		}
		key := path.Join("jobs", jobID, fmt.Sprintf("%02d%s", i+1, mt.Extension()))
		stored, err := p.store.Write(ctx, key, data)
		if err != nil {
			return nil, err
		}
		urls = append(urls, p.baseURL+"/"+stored)
	}
	return urls, nil
}

// Open resolves a locator previously returned by Publish back to its bytes.
func (p *Publisher) Open(ctx context.Context, locator string) ([]byte, error) {
	key, ok := p.KeyFor(locator)
	if !ok {
		return nil, ErrNotLocal
	}
	return p.store.Read(ctx, key)
}

// KeyFor maps a public locator to its storage key.
func (p *Publisher) KeyFor(locator string) (string, bool) {
	prefix := p.baseURL + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	key, err := sanitizeKey(strings.TrimPrefix(locator, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (p *Publisher) download(ctx context.Context, source string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(source))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("storage: invalid artifact url %q", source)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read artifact: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("storage: artifact exceeds %d bytes", p.maxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("storage: artifact is empty")
	}
	return data, nil
}

package image

import (
	"context"

	"photojobs/internal/domain"
	"photojobs/internal/domain/jsoncfg"
)

// EnhanceRequest describes a normalized request passed to any image provider.
type EnhanceRequest struct {
	JobID    string
	InputURL string
	JobType  domain.JobType
	Settings jsoncfg.Settings
	Locale   string
}

// Output is one processed image. Remote providers set URL; local renderers
// return the bytes inline.
type Output struct {
	URL  string
	Data []byte
	MIME string
}

// Enhancer is the contract implemented by all image providers.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) ([]Output, error)
}

// EnhancerFunc adapts a function to the Enhancer interface.
type EnhancerFunc func(ctx context.Context, req EnhanceRequest) ([]Output, error)

func (f EnhancerFunc) Enhance(ctx context.Context, req EnhanceRequest) ([]Output, error) {
	return f(ctx, req)
}

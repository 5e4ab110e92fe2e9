package image

import (
	"context"
	"errors"
	"fmt"

	"photojobs/internal/providers/replicate"
)

type predictionClient interface {
	Run(ctx context.Context, req replicate.PredictionRequest) (*replicate.Prediction, error)
	Model() string
}

// ErrCredentialNotConfigured is returned when no inference token resolves.
var ErrCredentialNotConfigured = errors.New("inference credential not configured")

// ReplicateEnhancer runs enhancement predictions on Replicate. Missing or
// rejected credentials fail the prediction.
type ReplicateEnhancer struct {
	client predictionClient
}

func NewReplicateEnhancer(client predictionClient) *ReplicateEnhancer {
	return &ReplicateEnhancer{client: client}
}

// Enhance fulfils the Enhancer interface.
func (e *ReplicateEnhancer) Enhance(ctx context.Context, req EnhanceRequest) ([]Output, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("replicate enhancer not configured")
	}
	pred, err := e.run(ctx, req)
	if errors.Is(err, replicate.ErrMissingAPIToken) {
		return nil, ErrCredentialNotConfigured
	}
	if err != nil {
		return nil, err
	}
	urls, err := pred.OutputURLs()
	if err != nil {
		return nil, err
	}
	outputs := make([]Output, 0, len(urls))
	for _, u := range urls {
		outputs = append(outputs, Output{URL: u})
	}
	return outputs, nil
}

func (e *ReplicateEnhancer) String() string {
	if e == nil || e.client == nil {
		return "replicate"
	}
	return e.client.Model()
}

// run retries once when the API reports a temporary failure.
func (e *ReplicateEnhancer) run(ctx context.Context, req EnhanceRequest) (*replicate.Prediction, error) {
	pr := replicate.PredictionRequest{Input: predictionInput(req), RequestID: req.JobID}
	pred, err := e.client.Run(ctx, pr)
	if err == nil || !isTemporary(err) || ctx.Err() != nil {
		return pred, err
	}
	return e.client.Run(ctx, pr)
}

func predictionInput(req EnhanceRequest) map[string]any {
	quantity := req.Settings.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	scale := 2
	if req.Settings.Quality == "hd" {
		scale = 4
	}
	input := map[string]any{
		"img":         req.InputURL,
		"image":       req.InputURL,
		"prompt":      Instruction(req),
		"scale":       scale,
		"num_outputs": quantity,
	}
	if ar := req.Settings.AspectRatio; ar != "" && ar != "original" {
		input["aspect_ratio"] = ar
	}
	return input
}

func isTemporary(err error) bool {
	var statusErr *replicate.StatusError
	return errors.As(err, &statusErr) && statusErr.Temporary()
}

var _ Enhancer = (*ReplicateEnhancer)(nil)

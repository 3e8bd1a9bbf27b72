package adapter

import (
	"context"

	"pixwave/internal/domain/model"
)

// ImageResult is the raw payload produced by the generation backend.
type ImageResult struct {
	Bytes       []byte
	ContentType string
}

// ImageGeneratorAdapter is the stateless port to the external image-synthesis
// service. Implementations translate params into the backend's request shape
// and surface any non-success response as a single error; they never retry.
type ImageGeneratorAdapter interface {
	Generate(ctx context.Context, params *model.GenerationParams) (*ImageResult, error)
}

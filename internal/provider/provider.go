package provider

import (
	"context"
	"errors"

	"github.com/manash/imgvault/pkg/models"
)

var (
	ErrGenerationFailed      = errors.New("image generation failed")
	ErrEditFailed            = errors.New("image edit failed")
	ErrVariationFailed       = errors.New("image variation failed")
	ErrEndpointRequired      = errors.New("provider endpoint is required")
	ErrEmptyResult           = errors.New("provider returned no image")
	ErrEditNotSupported      = errors.New("image editing not supported by model")
	ErrVariationNotSupported = errors.New("image variations not supported by model")
)

// Request describes one generation call. SourceURL carries the input image
// (remote URL or data URI) for edits and variations.
type Request struct {
	Prompt    string                 `json:"prompt,omitempty"`
	SourceURL string                 `json:"sourceUrl,omitempty"`
	Options   models.GenerateOptions `json:"-"`
}

// Result is the image descriptor a provider hands back. The provider itself
// is opaque to this application.
type Result struct {
	URL           string
	RevisedPrompt string
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Result, error)
	Edit(ctx context.Context, req *Request) (*Result, error)
	Variation(ctx context.Context, req *Request) (*Result, error)
}

package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrEmptyPrompt               = errors.New("prompt cannot be empty")
	ErrEmptyID                   = errors.New("record id cannot be empty")
	ErrEmptyURL                  = errors.New("record url cannot be empty")
	ErrZeroTimestamp             = errors.New("record createdAt cannot be zero")
	ErrInvalidCollection         = errors.New("unknown collection")
	ErrInvalidSize               = errors.New("invalid size for model")
	ErrInvalidQuality            = errors.New("invalid quality for model")
	ErrTransparencyNotSupported  = errors.New("transparency not supported by model")
	ErrInvalidTransparencyFormat = errors.New("transparent background requires png or webp format")
)

// Collection names one of the three independent gallery partitions.
type Collection string

const (
	CollectionImages     Collection = "images"
	CollectionEdited     Collection = "editedImages"
	CollectionVariations Collection = "variations"
)

func AllCollections() []Collection {
	return []Collection{CollectionImages, CollectionEdited, CollectionVariations}
}

func (c Collection) IsValid() bool {
	return slices.Contains(AllCollections(), c)
}

func (c Collection) String() string {
	return string(c)
}

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

func ValidFormats() []OutputFormat {
	return []OutputFormat{FormatPNG, FormatJPEG, FormatWebP}
}

func (f OutputFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f OutputFormat) String() string {
	return string(f)
}

// GeneratedImage is the persisted gallery record. The id is caller-supplied
// and unique within one collection; everything past createdAt is optional
// descriptive metadata the persistence layer treats as opaque.
type GeneratedImage struct {
	ID            string       `json:"id"`
	URL           string       `json:"url"`
	Prompt        string       `json:"prompt"`
	RevisedPrompt string       `json:"revisedPrompt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	Quality       string       `json:"quality,omitempty"`
	Format        OutputFormat `json:"format,omitempty"`
	Transparency  bool         `json:"transparency,omitempty"`
	Model         string       `json:"model,omitempty"`
}

func (g *GeneratedImage) Validate() error {
	if g.ID == "" {
		return ErrEmptyID
	}
	if g.URL == "" {
		return ErrEmptyURL
	}
	if g.CreatedAt.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// GenerateOptions carries the tunable parameters for a generation request.
type GenerateOptions struct {
	Model        string
	Size         string
	Quality      string
	Format       OutputFormat
	Transparency bool
}

func NewGenerateOptions() GenerateOptions {
	return GenerateOptions{Format: FormatPNG}
}

type ModelCapabilities struct {
	Name                 string
	SupportedSizes       []string
	SupportedQualities   []string
	DefaultSize          string
	DefaultQuality       string
	SupportsTransparency bool
	SupportsEdit         bool
	SupportsVariation    bool
}

func (c *ModelCapabilities) Validate(opts *GenerateOptions) error {
	if opts.Size != "" && !slices.Contains(c.SupportedSizes, opts.Size) {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidSize, opts.Size, c.SupportedSizes)
	}
	if opts.Quality != "" && len(c.SupportedQualities) > 0 && !slices.Contains(c.SupportedQualities, opts.Quality) {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidQuality, opts.Quality, c.SupportedQualities)
	}
	if opts.Transparency && !c.SupportsTransparency {
		return ErrTransparencyNotSupported
	}
	if opts.Transparency && opts.Format != FormatPNG && opts.Format != FormatWebP {
		return ErrInvalidTransparencyFormat
	}
	return nil
}

func (c *ModelCapabilities) ApplyDefaults(opts *GenerateOptions) {
	if opts.Size == "" {
		opts.Size = c.DefaultSize
	}
	if opts.Quality == "" && c.DefaultQuality != "" {
		opts.Quality = c.DefaultQuality
	}
	if opts.Model == "" {
		opts.Model = c.Name
	}
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:                 "gpt-image-1",
		SupportedSizes:       []string{"1024x1024", "1536x1024", "1024x1536", "auto"},
		SupportedQualities:   []string{"auto", "low", "medium", "high"},
		DefaultSize:          "1024x1024",
		DefaultQuality:       "auto",
		SupportsTransparency: true,
		SupportsEdit:         true,
	})

	r.Register(&ModelCapabilities{
		Name:               "dall-e-3",
		SupportedSizes:     []string{"1024x1024", "1024x1792", "1792x1024"},
		SupportedQualities: []string{"standard", "hd"},
		DefaultSize:        "1024x1024",
		DefaultQuality:     "standard",
	})

	r.Register(&ModelCapabilities{
		Name:              "dall-e-2",
		SupportedSizes:    []string{"256x256", "512x512", "1024x1024"},
		DefaultSize:       "1024x1024",
		SupportsEdit:      true,
		SupportsVariation: true,
	})

	return r
}

package gallery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manash/imgvault/internal/provider"
	"github.com/manash/imgvault/internal/security"
	"github.com/manash/imgvault/internal/state"
	"github.com/manash/imgvault/pkg/models"
)

var ErrSourceNotFound = errors.New("source image not found")

// Service runs the three generation operations end to end: flip the matching
// operation flag, call the provider, stamp id and timestamp on the result and
// prepend it to the right collection. The provider stays opaque; the service
// only trusts its output after the URL passes validation.
type Service struct {
	state    *state.State
	provider provider.Provider
	registry *models.ModelRegistry
	log      zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewService(st *state.State, prov provider.Provider, registry *models.ModelRegistry, log zerolog.Logger) *Service {
	if registry == nil {
		registry = models.DefaultRegistry()
	}
	return &Service{
		state:    st,
		provider: prov,
		registry: registry,
		log:      log,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

func (s *Service) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.GeneratedImage, error) {
	if prompt == "" {
		return nil, models.ErrEmptyPrompt
	}
	if err := s.prepareOptions(&opts, ""); err != nil {
		return nil, err
	}

	s.state.SetGenerating(true)
	defer s.state.SetGenerating(false)

	res, err := s.provider.Generate(ctx, &provider.Request{Prompt: prompt, Options: opts})
	if err != nil {
		s.state.SetError(fmt.Sprintf("generation failed: %v", err))
		return nil, err
	}

	return s.accept(models.CollectionImages, prompt, opts, res)
}

func (s *Service) Edit(ctx context.Context, sourceID, prompt string, opts models.GenerateOptions) (*models.GeneratedImage, error) {
	if prompt == "" {
		return nil, models.ErrEmptyPrompt
	}
	if err := s.prepareOptions(&opts, "edit"); err != nil {
		return nil, err
	}

	source, ok := s.state.Find(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	s.state.SetEditing(true)
	defer s.state.SetEditing(false)

	res, err := s.provider.Edit(ctx, &provider.Request{Prompt: prompt, SourceURL: source.URL, Options: opts})
	if err != nil {
		s.state.SetError(fmt.Sprintf("edit failed: %v", err))
		return nil, err
	}

	return s.accept(models.CollectionEdited, prompt, opts, res)
}

func (s *Service) Variation(ctx context.Context, sourceID string, opts models.GenerateOptions) (*models.GeneratedImage, error) {
	if err := s.prepareOptions(&opts, "variation"); err != nil {
		return nil, err
	}

	source, ok := s.state.Find(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	s.state.SetCreatingVariation(true)
	defer s.state.SetCreatingVariation(false)

	res, err := s.provider.Variation(ctx, &provider.Request{SourceURL: source.URL, Options: opts})
	if err != nil {
		s.state.SetError(fmt.Sprintf("variation failed: %v", err))
		return nil, err
	}

	return s.accept(models.CollectionVariations, source.Prompt, opts, res)
}

func (s *Service) prepareOptions(opts *models.GenerateOptions, operation string) error {
	if opts.Model == "" {
		return nil
	}
	caps, ok := s.registry.Get(opts.Model)
	if !ok {
		return fmt.Errorf("unknown model %q: available models: %v", opts.Model, s.registry.List())
	}
	switch operation {
	case "edit":
		if !caps.SupportsEdit {
			return provider.ErrEditNotSupported
		}
	case "variation":
		if !caps.SupportsVariation {
			return provider.ErrVariationNotSupported
		}
	}
	caps.ApplyDefaults(opts)
	return caps.Validate(opts)
}

func (s *Service) accept(col models.Collection, prompt string, opts models.GenerateOptions, res *provider.Result) (*models.GeneratedImage, error) {
	if err := security.ValidateImageURL(res.URL); err != nil {
		s.state.SetError(fmt.Sprintf("rejected provider result: %v", err))
		return nil, fmt.Errorf("provider returned unsafe image URL: %w", err)
	}

	rec := models.GeneratedImage{
		ID:            s.newID(),
		URL:           res.URL,
		Prompt:        prompt,
		RevisedPrompt: res.RevisedPrompt,
		CreatedAt:     s.now(),
		Quality:       opts.Quality,
		Format:        opts.Format,
		Transparency:  opts.Transparency,
		Model:         opts.Model,
	}

	if err := s.state.Add(col, rec); err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", col.String()).Str("id", rec.ID).Msg("record added")
	return &rec, nil
}

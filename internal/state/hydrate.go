package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/manash/imgvault/pkg/models"
)

var (
	ErrHydrationInProgress = errors.New("hydration already in progress")
	ErrAlreadyHydrated     = errors.New("state already hydrated")
	ErrHydrationFailed     = errors.New("hydration failed")
)

// Loader is the read side of the durable store. A nil Loader hydrates every
// collection to empty.
type Loader interface {
	LoadCollection(ctx context.Context, col models.Collection) ([]models.GeneratedImage, error)
}

type HydrationStatus int

const (
	HydrationIdle HydrationStatus = iota
	HydrationRunning
	HydrationDone
	HydrationFailed
)

func (s HydrationStatus) String() string {
	switch s {
	case HydrationIdle:
		return "idle"
	case HydrationRunning:
		return "hydrating"
	case HydrationDone:
		return "hydrated"
	case HydrationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Hydrator populates a State from the durable store once per session. The
// three collection loads run concurrently and all of them settle before the
// hydrator leaves the running status, so readers never observe a partially
// hydrated state. A failed run does not retry itself; calling Run again is
// the explicit retry.
type Hydrator struct {
	mu     sync.Mutex
	status HydrationStatus

	state  *State
	loader Loader
	log    zerolog.Logger
}

func NewHydrator(st *State, loader Loader, log zerolog.Logger) *Hydrator {
	return &Hydrator{state: st, loader: loader, log: log}
}

func (h *Hydrator) Status() HydrationStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Hydrator) Run(ctx context.Context) error {
	h.mu.Lock()
	switch h.status {
	case HydrationRunning:
		h.mu.Unlock()
		return ErrHydrationInProgress
	case HydrationDone:
		h.mu.Unlock()
		return ErrAlreadyHydrated
	}
	h.status = HydrationRunning
	h.mu.Unlock()

	h.state.setHydrating(true)

	type result struct {
		col     models.Collection
		records []models.GeneratedImage
		err     error
	}

	cols := models.AllCollections()
	results := make([]result, len(cols))
	var wg sync.WaitGroup
	for i, col := range cols {
		wg.Add(1)
		go func(i int, col models.Collection) {
			defer wg.Done()
			results[i].col = col
			if h.loader == nil {
				return
			}
			results[i].records, results[i].err = h.loader.LoadCollection(ctx, col)
		}(i, col)
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.col, r.err))
		}
	}

	if len(errs) > 0 {
		h.setStatus(HydrationFailed)
		h.state.setHydrating(false)
		h.state.SetError("failed to restore gallery from disk")
		err := fmt.Errorf("%w: %v", ErrHydrationFailed, errors.Join(errs...))
		h.log.Error().Err(err).Msg("hydration failed")
		return err
	}

	// Snapshots are saved newest-first and read back in storage order, so the
	// loaded slice is already in display order.
	for _, r := range results {
		h.state.install(r.col, r.records)
		h.log.Debug().Str("collection", r.col.String()).Int("records", len(r.records)).Msg("collection hydrated")
	}

	h.setStatus(HydrationDone)
	h.state.setHydrating(false)
	return nil
}

func (h *Hydrator) setStatus(s HydrationStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/manash/imgvault/internal/gallery"
	"github.com/manash/imgvault/internal/state"
	"github.com/manash/imgvault/pkg/models"
)

// Server exposes the gallery state and actions as a JSON API. This is the
// mutation surface the browser UI talks to; rendering stays on the client.
type Server struct {
	state    *state.State
	gallery  *gallery.Service
	hydrator *state.Hydrator
	metrics  http.Handler
	log      zerolog.Logger
}

type Config struct {
	State    *state.State
	Gallery  *gallery.Service
	Hydrator *state.Hydrator
	Metrics  http.Handler
	Log      zerolog.Logger
}

func New(cfg *Config) *Server {
	return &Server{
		state:    cfg.State,
		gallery:  cfg.Gallery,
		hydrator: cfg.Hydrator,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/{collection}", s.handleListCollection)
		r.Delete("/{collection}", s.handleClearCollection)
		r.Delete("/gallery", s.handleClearAll)
		r.Post("/generate", s.handleGenerate)
		r.Post("/edit", s.handleEdit)
		r.Post("/variation", s.handleVariation)
	})

	return r
}

// URL path segments use the partition names; the in-memory collections use
// the logical ones.
func collectionFromPath(seg string) (models.Collection, bool) {
	switch seg {
	case "images":
		return models.CollectionImages, true
	case "edited-images":
		return models.CollectionEdited, true
	case "variations":
		return models.CollectionVariations, true
	default:
		return "", false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operation": s.state.Ops(),
		"hydration": s.hydrator.Status().String(),
	})
}

func (s *Server) handleListCollection(w http.ResponseWriter, r *http.Request) {
	col, ok := collectionFromPath(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	records := s.state.Records(col)
	if records == nil {
		records = []models.GeneratedImage{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleClearCollection(w http.ResponseWriter, r *http.Request) {
	col, ok := collectionFromPath(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	if err := s.state.Clear(col); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	s.state.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Prompt       string `json:"prompt"`
	SourceID     string `json:"sourceId,omitempty"`
	Model        string `json:"model,omitempty"`
	Size         string `json:"size,omitempty"`
	Quality      string `json:"quality,omitempty"`
	Format       string `json:"format,omitempty"`
	Transparency bool   `json:"transparency,omitempty"`
}

func (req *generateRequest) options() models.GenerateOptions {
	opts := models.NewGenerateOptions()
	opts.Model = req.Model
	opts.Size = req.Size
	opts.Quality = req.Quality
	if req.Format != "" {
		opts.Format = models.OutputFormat(req.Format)
	}
	opts.Transparency = req.Transparency
	return opts
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.gallery.Generate(r.Context(), req.Prompt, req.options())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.gallery.Edit(r.Context(), req.SourceID, req.Prompt, req.options())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleVariation(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.gallery.Variation(r.Context(), req.SourceID, req.options())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyPrompt),
		errors.Is(err, models.ErrInvalidSize),
		errors.Is(err, models.ErrInvalidQuality),
		errors.Is(err, models.ErrTransparencyNotSupported),
		errors.Is(err, models.ErrInvalidTransparencyFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gallery.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Msg("gallery action failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

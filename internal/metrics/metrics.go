// Package metrics instruments the durable store with Prometheus counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manash/imgvault/pkg/models"
)

type Metrics struct {
	registry *prometheus.Registry

	saves  *prometheus.CounterVec
	loads  *prometheus.CounterVec
	clears *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgvault",
			Name:      "store_saves_total",
			Help:      "Collection snapshot saves by collection and status.",
		}, []string{"collection", "status"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgvault",
			Name:      "store_loads_total",
			Help:      "Collection loads by collection and status.",
		}, []string{"collection", "status"}),
		clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgvault",
			Name:      "store_clears_total",
			Help:      "Collection clears by collection and status.",
		}, []string{"collection", "status"}),
	}
	m.registry.MustRegister(m.saves, m.loads, m.clears)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// GalleryStore is the store surface the instrumented wrapper covers: the
// write side consumed by the state container plus the read side consumed by
// the hydrator.
type GalleryStore interface {
	SaveCollection(ctx context.Context, col models.Collection, records []models.GeneratedImage) error
	LoadCollection(ctx context.Context, col models.Collection) ([]models.GeneratedImage, error)
	ClearCollection(ctx context.Context, col models.Collection) error
}

type instrumentedStore struct {
	next    GalleryStore
	metrics *Metrics
}

// Instrument wraps a store so every save, load and clear is counted.
func (m *Metrics) Instrument(next GalleryStore) GalleryStore {
	return &instrumentedStore{next: next, metrics: m}
}

func (s *instrumentedStore) SaveCollection(ctx context.Context, col models.Collection, records []models.GeneratedImage) error {
	err := s.next.SaveCollection(ctx, col, records)
	s.metrics.saves.WithLabelValues(col.String(), status(err)).Inc()
	return err
}

func (s *instrumentedStore) LoadCollection(ctx context.Context, col models.Collection) ([]models.GeneratedImage, error) {
	records, err := s.next.LoadCollection(ctx, col)
	s.metrics.loads.WithLabelValues(col.String(), status(err)).Inc()
	return records, err
}

func (s *instrumentedStore) ClearCollection(ctx context.Context, col models.Collection) error {
	err := s.next.ClearCollection(ctx, col)
	s.metrics.clears.WithLabelValues(col.String(), status(err)).Inc()
	return err
}

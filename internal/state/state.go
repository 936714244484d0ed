package state

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/manash/imgvault/pkg/models"
)

// Persister is the write side of the durable store. A nil Persister means
// memory-only operation (storage unavailable or deliberately disabled).
type Persister interface {
	SaveCollection(ctx context.Context, col models.Collection, records []models.GeneratedImage) error
	ClearCollection(ctx context.Context, col models.Collection) error
}

// OperationState holds the transient UI flags. It is never persisted.
type OperationState struct {
	IsGenerating        bool   `json:"isGenerating"`
	IsEditing           bool   `json:"isEditing"`
	IsCreatingVariation bool   `json:"isCreatingVariation"`
	IsHydrating         bool   `json:"isHydrating"`
	SelectedImageID     string `json:"selectedImageId,omitempty"`
	Error               string `json:"error,omitempty"`
}

type persistJob struct {
	run  func(ctx context.Context) error
	done chan struct{}
}

// writeQueue is an unbounded FIFO with a single worker, so enqueueing never
// blocks and jobs for one collection run strictly in enqueue order.
type writeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []persistJob
	closed bool
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) push(job persistJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		if job.done != nil {
			close(job.done)
		}
		return
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
}

// pop blocks until a job is available or the queue is closed and drained.
func (q *writeQueue) pop() (persistJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return persistJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *writeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// State is the in-memory application state: three newest-first collections
// plus operation flags. Mutations apply to memory synchronously and then
// hand a full-collection snapshot to a per-collection write queue, so
// persistence never blocks a caller and writes for one collection commit in
// mutation order. The in-memory copy is authoritative for the session;
// persistence failures are logged and recorded but never reverted.
type State struct {
	mu          sync.RWMutex
	collections map[models.Collection][]models.GeneratedImage
	ops         OperationState

	persister Persister
	queues    map[models.Collection]*writeQueue
	workers   sync.WaitGroup
	log       zerolog.Logger
}

func New(persister Persister, log zerolog.Logger) *State {
	s := &State{
		collections: make(map[models.Collection][]models.GeneratedImage),
		persister:   persister,
		queues:      make(map[models.Collection]*writeQueue),
		log:         log,
	}
	for _, col := range models.AllCollections() {
		s.collections[col] = nil
		if persister == nil {
			continue
		}
		q := newWriteQueue()
		s.queues[col] = q
		s.workers.Add(1)
		go s.runQueue(col, q)
	}
	return s
}

func (s *State) runQueue(col models.Collection, q *writeQueue) {
	defer s.workers.Done()
	for {
		job, ok := q.pop()
		if !ok {
			return
		}
		// Writes are not cancellable; an abandoned write simply never commits.
		if err := job.run(context.Background()); err != nil {
			s.log.Warn().Err(err).Str("collection", col.String()).Msg("persistence write failed, in-memory state kept")
			s.setError("changes to " + col.String() + " may not survive a restart")
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

// enqueue must be called with s.mu held so writes enter the queue in the
// order their mutations applied.
func (s *State) enqueue(col models.Collection, run func(ctx context.Context) error) {
	q, ok := s.queues[col]
	if !ok {
		return
	}
	q.push(persistJob{run: run})
}

// Flush blocks until every write enqueued before the call has settled.
func (s *State) Flush() {
	var barriers []chan struct{}
	for _, q := range s.queues {
		done := make(chan struct{})
		q.push(persistJob{run: func(context.Context) error { return nil }, done: done})
		barriers = append(barriers, done)
	}
	for _, done := range barriers {
		<-done
	}
}

// Close drains the write queues and stops the workers.
func (s *State) Close() {
	for _, q := range s.queues {
		q.close()
	}
	s.workers.Wait()
	s.queues = make(map[models.Collection]*writeQueue)
}

// Add prepends record to the collection and schedules a snapshot save of the
// whole new collection.
func (s *State) Add(col models.Collection, record models.GeneratedImage) error {
	if !col.IsValid() {
		return models.ErrInvalidCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.Error = ""
	s.collections[col] = append([]models.GeneratedImage{record}, s.collections[col]...)
	snapshot := slices.Clone(s.collections[col])

	s.enqueue(col, func(ctx context.Context) error {
		return s.persister.SaveCollection(ctx, col, snapshot)
	})
	return nil
}

// Clear empties the collection in memory and schedules the durable clear.
func (s *State) Clear(col models.Collection) error {
	if !col.IsValid() {
		return models.ErrInvalidCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.Error = ""
	s.collections[col] = nil

	s.enqueue(col, func(ctx context.Context) error {
		return s.persister.ClearCollection(ctx, col)
	})
	return nil
}

// ClearAll empties all three collections, resets the operation flags and
// schedules a durable clear per collection. Going through the per-collection
// queues keeps each clear ordered against earlier writes to the same
// collection.
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range models.AllCollections() {
		s.collections[col] = nil
	}
	s.ops = OperationState{}

	for _, col := range models.AllCollections() {
		col := col
		s.enqueue(col, func(ctx context.Context) error {
			return s.persister.ClearCollection(ctx, col)
		})
	}
}

// Records returns a copy of the collection, newest first.
func (s *State) Records(col models.Collection) []models.GeneratedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.collections[col])
}

// Find looks a record up by id across all collections.
func (s *State) Find(id string) (models.GeneratedImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, col := range models.AllCollections() {
		for _, rec := range s.collections[col] {
			if rec.ID == id {
				return rec, true
			}
		}
	}
	return models.GeneratedImage{}, false
}

func (s *State) Ops() OperationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops
}

func (s *State) SetGenerating(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.IsGenerating = v
	if v {
		s.ops.Error = ""
	}
}

func (s *State) SetEditing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.IsEditing = v
	if v {
		s.ops.Error = ""
	}
}

func (s *State) SetCreatingVariation(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.IsCreatingVariation = v
	if v {
		s.ops.Error = ""
	}
}

func (s *State) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.SelectedImageID = id
}

// SetError records an error message. An error always terminates whatever
// operation was in flight, so the in-progress flags drop with it.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.Error = msg
	s.ops.IsGenerating = false
	s.ops.IsEditing = false
	s.ops.IsCreatingVariation = false
}

func (s *State) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.Error = ""
}

// setError is the queue-worker variant: it records the message but leaves the
// in-progress flags alone, since a background write failure does not abort
// the action that already completed in memory.
func (s *State) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.Error = msg
}

func (s *State) setHydrating(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops.IsHydrating = v
}

// install replaces a collection without touching the durable store. Used by
// hydration only.
func (s *State) install(col models.Collection, records []models.GeneratedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[col] = slices.Clone(records)
}

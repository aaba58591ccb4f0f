package flight

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openwsm/openwsm/pkg/telemetry"
)

// Scheduler runs flights on a bounded worker pool. Pending and resumable
// flights are pulled from the durable store, so a restarted process (or a
// different node sharing the store) picks incomplete flights back up.
// Coordination between flights never uses in-process locks; it goes through
// the store and the resource state machine.
type Scheduler struct {
	store    Store
	registry *Registry
	runner   *Runner
	logger   *telemetry.Logger

	workers int
	queue   chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// NewScheduler creates a scheduler with the given worker count.
func NewScheduler(store Store, registry *Registry, runner *Runner, tel *telemetry.Telemetry, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		store:    store,
		registry: registry,
		runner:   runner,
		logger:   tel.Logger.NewComponentLogger("flight-scheduler"),
		workers:  workers,
		queue:    make(chan string, 256),
		inflight: make(map[string]bool),
	}
}

// claim marks a flight as executing on this node so the recovery scan does
// not queue it twice. Cross-node exclusion is the store's job; this guard
// only covers the local pool.
func (s *Scheduler) claim(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// Submit validates the flight class, persists a new flight record and
// queues it for execution. The returned id can be polled via the store.
func (s *Scheduler) Submit(ctx context.Context, class string, inputs map[string]json.RawMessage) (string, error) {
	id := uuid.New().String()

	// Build once up front so a bad class or bad inputs fail at submission,
	// not on a worker.
	if _, err := s.registry.Build(class, id, inputs); err != nil {
		return "", err
	}

	encoded, err := EncodeParamMap(inputs)
	if err != nil {
		return "", err
	}
	now := time.Now()
	rec := &Record{
		ID:        id,
		Class:     class,
		Status:    StateRunningForward,
		Inputs:    encoded,
		Working:   json.RawMessage("{}"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateFlight(ctx, rec); err != nil {
		return "", err
	}

	select {
	case s.queue <- id:
	default:
		// Queue full; the periodic recovery scan will pick the flight up.
		s.logger.WithFlightID(id).Warn("flight queue full, deferring to recovery scan")
	}
	return id, nil
}

// Cancel sets the cooperative cancellation flag. The flight notices at its
// next step boundary and compensates.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.RequestCancel(ctx, id)
}

// Start launches the worker pool and the recovery scan.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}

	s.wg.Add(1)
	go s.recoveryLoop(runCtx)

	s.logger.Infof("scheduler started with %d workers", s.workers)
	return nil
}

// Stop stops accepting work and waits for in-progress flights to reach
// their next checkpoint boundary.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunSync executes one flight on the calling goroutine. Used by tests and
// by the recovery path when ordering matters.
func (s *Scheduler) RunSync(ctx context.Context, id string) (State, error) {
	rec, err := s.store.GetFlight(ctx, id)
	if err != nil {
		return "", err
	}
	inputs, err := DecodeParamMap(rec.Inputs)
	if err != nil {
		return "", err
	}
	f, err := s.registry.Build(rec.Class, rec.ID, inputs)
	if err != nil {
		return "", err
	}
	return s.runner.Run(ctx, f)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if !s.claim(id) {
				continue
			}
			if _, err := s.RunSync(ctx, id); err != nil {
				s.logger.WithFlightID(id).WithError(err).Warn("flight finished with error")
			}
			s.release(id)
		}
	}
}

// recoveryLoop rescans the store for resumable flights. It runs once at
// startup to resume flights orphaned by a crash, then periodically to pick
// up work deferred when the queue was full.
func (s *Scheduler) recoveryLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	s.recoverOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recoverOnce(ctx)
		}
	}
}

func (s *Scheduler) recoverOnce(ctx context.Context) {
	recs, err := s.store.ListResumable(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("recovery scan failed")
		return
	}
	for _, rec := range recs {
		s.inflightMu.Lock()
		executing := s.inflight[rec.ID]
		s.inflightMu.Unlock()
		if executing {
			continue
		}
		select {
		case s.queue <- rec.ID:
			s.logger.WithFlightID(rec.ID).WithField("class", rec.Class).Info("requeued resumable flight")
		default:
			return
		}
	}
}

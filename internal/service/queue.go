package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

type EventPublisher interface {
	Publish(event Event)
}

// QueueOptions tunes the engine; zero values take the defaults the
// remote service was designed around (5s interval, 240 attempts, 24h
// retention).
type QueueOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	Retention    time.Duration
	Now          func() time.Time
}

// QueueEngine owns the job queue. All mutation funnels through its
// mutex: poll goroutines and HTTP handlers never touch the queue or the
// delivered set directly.
type QueueEngine struct {
	runner port.JobRunner
	store  port.QueueStore
	sink   port.ArtifactSink
	bus    EventPublisher

	mu        sync.Mutex
	queue     []*domain.Job
	delivered map[string]struct{}
	polling   map[string]struct{}

	ctx         context.Context
	wg          sync.WaitGroup
	interval    time.Duration
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
}

func NewQueueEngine(runner port.JobRunner, store port.QueueStore, sink port.ArtifactSink, bus EventPublisher, opts QueueOptions) *QueueEngine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 240
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &QueueEngine{
		runner:      runner,
		store:       store,
		sink:        sink,
		bus:         bus,
		delivered:   make(map[string]struct{}),
		polling:     make(map[string]struct{}),
		ctx:         context.Background(),
		interval:    opts.PollInterval,
		maxAttempts: opts.MaxAttempts,
		retention:   opts.Retention,
		now:         opts.Now,
	}
}

// Start restores the persisted queue and resumes polling for every job
// still marked processing. Completed jobs are marked delivered so a
// restored queue is never re-delivered. Terminal jobs past the retention
// window are evicted; processing jobs are exempt regardless of age.
//
// Resumed poll loops restart with a fresh attempt counter, so a job
// interrupted for a long time gets a new timeout window. Known
// limitation, kept from the original behavior.
func (e *QueueEngine) Start(ctx context.Context) error {
	jobs, err := e.store.LoadQueue()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	e.mu.Lock()
	e.ctx = ctx
	e.queue = jobs

	evicted := e.evictLocked()

	var resume []string
	for _, job := range e.queue {
		switch job.Status {
		case domain.JobStatusProcessing:
			resume = append(resume, job.ID)
		case domain.JobStatusCompleted:
			e.delivered[job.ID] = struct{}{}
		}
	}

	if evicted > 0 {
		e.persistLocked()
	}
	e.mu.Unlock()

	if evicted > 0 {
		logger.Info.Printf("evicted %d expired jobs from queue", evicted)
	}
	logger.Info.Printf("restored %d jobs, resuming %d poll loops", len(jobs), len(resume))

	for _, id := range resume {
		e.startPolling(id)
	}
	e.publish()
	return nil
}

// Wait blocks until all poll loops have exited after the engine context
// is cancelled.
func (e *QueueEngine) Wait() {
	e.wg.Wait()
}

func (e *QueueEngine) evictLocked() int {
	cutoff := e.now().Add(-e.retention)
	kept := e.queue[:0]
	evicted := 0
	for _, job := range e.queue {
		if job.Status == domain.JobStatusProcessing || job.CreatedAt.IsZero() || job.CreatedAt.After(cutoff) {
			kept = append(kept, job)
		} else {
			evicted++
		}
	}
	e.queue = kept
	return evicted
}

// Submit validates the submission, creates the remote job, appends the
// record, persists, and starts its poll loop. No job record exists if
// validation or the remote call fails.
func (e *QueueEngine) Submit(ctx context.Context, sub domain.Submission) (*domain.Job, error) {
	sub = sub.Normalized()
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	id, err := e.runner.Submit(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	if id == "" {
		id = "gen_" + uuid.NewString()
	}

	job := domain.NewJob(id, sub, e.now())

	e.mu.Lock()
	e.queue = append(e.queue, job)
	e.persistLocked()
	snapshot := *job
	e.mu.Unlock()

	logger.Info.Printf("job %s submitted (%s, %d frames)", logger.SanitizeForLog(id), snapshot.Resolution, snapshot.Frames)
	e.publish()
	e.startPolling(id)
	return &snapshot, nil
}

// Cancel asks the remote service to stop the job, then force-fails the
// local record. The poll loop is not stopped here; it exits on its next
// tick because the status has left processing.
func (e *QueueEngine) Cancel(ctx context.Context, id string, silent bool) error {
	if err := e.runner.Cancel(ctx, id); err != nil {
		logger.Warn.Printf("cancel job %s: %v", logger.SanitizeForLog(id), err)
		if silent {
			return nil
		}
		return fmt.Errorf("cancel job: %w", err)
	}

	e.mu.Lock()
	changed := false
	if job := e.findLocked(id); job != nil {
		changed = job.Apply(domain.Event{Kind: domain.EventCancelled, At: e.now()})
	}
	if changed {
		e.persistLocked()
	}
	e.mu.Unlock()

	if changed {
		e.publish()
	}
	return nil
}

// Retry re-submits a job's stored submission as a new job. The original
// record is left untouched; any prior delivery marker for the id is
// cleared so the fresh run can deliver again.
func (e *QueueEngine) Retry(ctx context.Context, id string) (*domain.Job, error) {
	e.mu.Lock()
	job := e.findLocked(id)
	if job == nil {
		e.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if job.Submission == nil {
		e.mu.Unlock()
		return nil, domain.ErrNoRetryData
	}
	sub := *job.Submission
	delete(e.delivered, id)
	e.mu.Unlock()

	return e.Submit(ctx, sub)
}

// Clear removes all jobs matching the predicate in one step.
func (e *QueueEngine) Clear(pred func(*domain.Job) bool) int {
	e.mu.Lock()
	kept := e.queue[:0]
	removed := 0
	for _, job := range e.queue {
		if pred(job) {
			removed++
		} else {
			kept = append(kept, job)
		}
	}
	e.queue = kept
	if removed > 0 {
		e.persistLocked()
	}
	e.mu.Unlock()

	if removed > 0 {
		logger.Info.Printf("cleared %d jobs from queue", removed)
		e.publish()
	}
	return removed
}

// ClearTerminal removes every completed and failed job.
func (e *QueueEngine) ClearTerminal() int {
	return e.Clear(func(j *domain.Job) bool { return j.Status.Terminal() })
}

// Jobs returns a snapshot of the queue in submission order.
func (e *QueueEngine) Jobs() []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := make([]domain.Job, len(e.queue))
	for i, j := range e.queue {
		jobs[i] = *j
	}
	return jobs
}

// Stats returns per-status counts.
func (e *QueueEngine) Stats() domain.QueueStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CountStats(e.queue)
}

// startPolling launches the poll loop for a job id, guaranteeing at most
// one active loop per id.
func (e *QueueEngine) startPolling(id string) {
	e.mu.Lock()
	if _, running := e.polling[id]; running {
		e.mu.Unlock()
		return
	}
	e.polling[id] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.pollLoop(id)
}

func (e *QueueEngine) pollLoop(id string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.polling, id)
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for attempts := 0; ; {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		if done := e.pollTick(id); done {
			return
		}
		if attempts >= e.maxAttempts {
			e.timeout(id)
			return
		}
	}
}

// pollTick performs one status poll. It returns true when the loop
// should stop: job gone, job already terminal, or a terminal transition
// happened on this tick. Transport and protocol failures are logged and
// skipped; they only count toward the attempt cap.
func (e *QueueEngine) pollTick(id string) bool {
	e.mu.Lock()
	job := e.findLocked(id)
	if job == nil {
		e.mu.Unlock()
		logger.Debug.Printf("job %s removed from queue, stopping poll", logger.SanitizeForLog(id))
		return true
	}
	if job.Status != domain.JobStatusProcessing {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	status, err := e.runner.Status(e.ctx, id)
	if err != nil {
		logger.Warn.Printf("job %s: status poll failed: %v", logger.SanitizeForLog(id), err)
		return false
	}

	switch status.State() {
	case domain.RemoteStateCompleted:
		return e.complete(id, status)
	case domain.RemoteStateFailed:
		return e.fail(id, status.Error)
	case domain.RemoteStateInProgress:
		e.progress(id)
		return false
	default:
		logger.Debug.Printf("job %s: unrecognized status %q", logger.SanitizeForLog(id), logger.SanitizeForLog(status.Status))
		return false
	}
}

// complete resolves a COMPLETED poll. Delivery fires at most once per
// job id; a job restored from a previous session skips it silently. A
// completed response without any video payload is corrected to failed.
func (e *QueueEngine) complete(id string, status domain.RemoteStatus) bool {
	payload, found := status.ArtifactPayload()

	e.mu.Lock()
	job := e.findLocked(id)
	if job == nil {
		e.mu.Unlock()
		return true
	}
	if !job.Apply(domain.Event{Kind: domain.EventCompleted, At: e.now()}) {
		e.mu.Unlock()
		return true
	}

	deliver := false
	if !found {
		job.Apply(domain.Event{Kind: domain.EventMissingArtifact})
	} else if _, dup := e.delivered[id]; !dup {
		e.delivered[id] = struct{}{}
		job.Artifact = payload
		deliver = true
	}
	e.persistLocked()
	e.mu.Unlock()
	e.publish()

	if deliver {
		if path, err := e.sink.Deliver(id, payload); err != nil {
			// Delivery failure never reverts the completed status.
			logger.Error.Printf("job %s: artifact delivery failed: %v", logger.SanitizeForLog(id), err)
		} else {
			logger.Info.Printf("job %s: video saved to %s", logger.SanitizeForLog(id), path)
		}
	} else if !found {
		logger.Error.Printf("job %s: completed without video payload", logger.SanitizeForLog(id))
	}
	return true
}

func (e *QueueEngine) fail(id, reason string) bool {
	e.mu.Lock()
	changed := false
	if job := e.findLocked(id); job != nil {
		changed = job.Apply(domain.Event{Kind: domain.EventFailed, At: e.now(), Reason: reason})
	}
	if changed {
		e.persistLocked()
	}
	e.mu.Unlock()

	if changed {
		logger.Info.Printf("job %s failed: %s", logger.SanitizeForLog(id), logger.SanitizeForLog(reason))
		e.publish()
	}
	return true
}

func (e *QueueEngine) progress(id string) {
	e.mu.Lock()
	changed := false
	if job := e.findLocked(id); job != nil {
		changed = job.Apply(domain.Event{Kind: domain.EventProgress, At: e.now()})
	}
	if changed {
		e.persistLocked()
	}
	e.mu.Unlock()

	if changed {
		e.publish()
	}
}

func (e *QueueEngine) timeout(id string) {
	e.mu.Lock()
	changed := false
	if job := e.findLocked(id); job != nil {
		changed = job.Apply(domain.Event{Kind: domain.EventTimeout, At: e.now()})
	}
	if changed {
		e.persistLocked()
	}
	e.mu.Unlock()

	if changed {
		logger.Warn.Printf("job %s timed out after %d poll attempts", logger.SanitizeForLog(id), e.maxAttempts)
		e.publish()
	}
}

func (e *QueueEngine) findLocked(id string) *domain.Job {
	for _, job := range e.queue {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// persistLocked writes the queue snapshot. Persistence failures are
// logged, never fatal to the engine.
func (e *QueueEngine) persistLocked() {
	if err := e.store.SaveQueue(e.queue); err != nil {
		logger.Error.Printf("failed to persist queue: %v", err)
	}
}

func (e *QueueEngine) publish() {
	if e.bus != nil {
		e.bus.Publish(Event{Type: EventQueue})
	}
}

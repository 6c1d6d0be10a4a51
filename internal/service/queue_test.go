package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
)

type fakeRunner struct {
	mu       sync.Mutex
	submitFn func(domain.Submission) (string, error)
	statusFn func(string) (domain.RemoteStatus, error)
	cancelFn func(string) error

	submitCalls int
	statusCalls int
}

func (f *fakeRunner) Submit(_ context.Context, sub domain.Submission) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitFn == nil {
		return "abc123", nil
	}
	return f.submitFn(sub)
}

func (f *fakeRunner) Status(_ context.Context, id string) (domain.RemoteStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	if f.statusFn == nil {
		return domain.RemoteStatus{Status: "IN_QUEUE"}, nil
	}
	return f.statusFn(id)
}

func (f *fakeRunner) Cancel(_ context.Context, id string) error {
	if f.cancelFn == nil {
		return nil
	}
	return f.cancelFn(id)
}

func (f *fakeRunner) Health(_ context.Context) (domain.HealthReport, error) {
	return domain.HealthReport{Status: "running"}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	load  []*domain.Job
	saves int
}

func (f *fakeStore) SaveQueue(jobs []*domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeStore) LoadQueue() ([]*domain.Job, error) {
	return f.load, nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fakeSink struct {
	mu       sync.Mutex
	payloads map[string]string
	err      error
}

func (f *fakeSink) Deliver(jobID, payload string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloads == nil {
		f.payloads = make(map[string]string)
	}
	f.payloads[jobID] = payload
	if f.err != nil {
		return "", f.err
	}
	return "/out/" + jobID + ".mp4", nil
}

func (f *fakeSink) deliveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func validSubmission() domain.Submission {
	return domain.Submission{
		Prompt: "cat",
		Image:  "data:image/png;base64,aGVsbG8=",
		Width:  832,
		Height: 480,
		Steps:  10,
		Seed:   42,
		Cfg:    2.0,
		Length: 81,
	}
}

// newTestEngine builds an engine whose poll loops effectively never tick
// on their own, so tests drive pollTick directly.
func newTestEngine(runner *fakeRunner, store *fakeStore, sink *fakeSink, clk *fakeClock) *QueueEngine {
	return NewQueueEngine(runner, store, sink, nil, QueueOptions{
		PollInterval: time.Hour,
		MaxAttempts:  240,
		Now:          clk.Now,
	})
}

func TestQueueEngineSubmit(t *testing.T) {
	t.Run("creates processing job with server id", func(t *testing.T) {
		runner := &fakeRunner{}
		store := &fakeStore{}
		clk := newFakeClock()
		engine := newTestEngine(runner, store, &fakeSink{}, clk)

		job, err := engine.Submit(context.Background(), validSubmission())

		require.NoError(t, err)
		assert.Equal(t, "abc123", job.ID)
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
		assert.Equal(t, float64(0), job.Progress)
		assert.True(t, job.StartedAt.Equal(clk.Now()))

		jobs := engine.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, "abc123", jobs[0].ID)
		assert.Equal(t, 1, store.saveCount())
	})

	t.Run("invalid image fails before any network call", func(t *testing.T) {
		runner := &fakeRunner{}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())

		sub := validSubmission()
		sub.Image = "not-a-data-uri"
		_, err := engine.Submit(context.Background(), sub)

		assert.ErrorIs(t, err, domain.ErrInvalidImage)
		assert.Empty(t, engine.Jobs())
		assert.Zero(t, runner.submitCalls)
	})

	t.Run("transport failure creates no job", func(t *testing.T) {
		runner := &fakeRunner{submitFn: func(domain.Submission) (string, error) {
			return "", errors.New("HTTP 503: no workers")
		}}
		store := &fakeStore{}
		engine := newTestEngine(runner, store, &fakeSink{}, newFakeClock())

		_, err := engine.Submit(context.Background(), validSubmission())

		assert.Error(t, err)
		assert.Empty(t, engine.Jobs())
		assert.Zero(t, store.saveCount())
	})

	t.Run("missing server id gets local fallback", func(t *testing.T) {
		runner := &fakeRunner{submitFn: func(domain.Submission) (string, error) { return "", nil }}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())

		job, err := engine.Submit(context.Background(), validSubmission())

		require.NoError(t, err)
		assert.Contains(t, job.ID, "gen_")
	})

	t.Run("defaults applied to absent numeric fields", func(t *testing.T) {
		var got domain.Submission
		runner := &fakeRunner{submitFn: func(sub domain.Submission) (string, error) {
			got = sub
			return "abc123", nil
		}}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())

		sub := domain.Submission{Prompt: "cat", Image: "data:image/png;base64,xx", Width: 832, Height: 480}
		_, err := engine.Submit(context.Background(), sub)

		require.NoError(t, err)
		assert.Equal(t, domain.DefaultLength, got.Length)
		assert.Equal(t, domain.DefaultSteps, got.Steps)
		assert.Equal(t, domain.DefaultSeed, got.Seed)
		assert.Equal(t, domain.DefaultCfg, got.Cfg)
	})
}

func TestQueueEnginePollTick(t *testing.T) {
	submit := func(t *testing.T, engine *QueueEngine) *domain.Job {
		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)
		return job
	}

	t.Run("completed with nested video delivers once", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "COMPLETED", Output: []byte(`{"video":"dmlkZW8="}`)}, nil
		}}
		sink := &fakeSink{}
		engine := newTestEngine(runner, &fakeStore{}, sink, newFakeClock())
		job := submit(t, engine)

		done := engine.pollTick(job.ID)

		assert.True(t, done)
		jobs := engine.Jobs()
		assert.Equal(t, domain.JobStatusCompleted, jobs[0].Status)
		assert.Equal(t, float64(100), jobs[0].Progress)
		assert.False(t, jobs[0].EndedAt.IsZero())
		assert.Equal(t, "dmlkZW8=", sink.payloads[job.ID])

		// A stale duplicate tick must not re-deliver.
		done = engine.pollTick(job.ID)
		assert.True(t, done)
		assert.Equal(t, 1, sink.deliveries())
	})

	t.Run("completed with bare string output delivers it", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "completed", Output: []byte(`"cGF5bG9hZA=="`)}, nil
		}}
		sink := &fakeSink{}
		engine := newTestEngine(runner, &fakeStore{}, sink, newFakeClock())
		job := submit(t, engine)

		engine.pollTick(job.ID)

		assert.Equal(t, "cGF5bG9hZA==", sink.payloads[job.ID])
	})

	t.Run("completed without video corrects to failed", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "COMPLETED"}, nil
		}}
		sink := &fakeSink{}
		engine := newTestEngine(runner, &fakeStore{}, sink, newFakeClock())
		job := submit(t, engine)

		done := engine.pollTick(job.ID)

		assert.True(t, done)
		jobs := engine.Jobs()
		assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
		assert.Equal(t, domain.ErrorMissingArtifact, jobs[0].Error)
		assert.Zero(t, sink.deliveries())
	})

	t.Run("delivery failure keeps job completed", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "COMPLETED", Video: "dmlkZW8="}, nil
		}}
		sink := &fakeSink{err: errors.New("disk full")}
		engine := newTestEngine(runner, &fakeStore{}, sink, newFakeClock())
		job := submit(t, engine)

		engine.pollTick(job.ID)

		assert.Equal(t, domain.JobStatusCompleted, engine.Jobs()[0].Status)
	})

	t.Run("failed uses server reason", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "FAILED", Error: "CUDA out of memory"}, nil
		}}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job := submit(t, engine)

		done := engine.pollTick(job.ID)

		assert.True(t, done)
		jobs := engine.Jobs()
		assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
		assert.Equal(t, "CUDA out of memory", jobs[0].Error)
	})

	t.Run("failed without reason falls back", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "FAILED"}, nil
		}}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job := submit(t, engine)

		engine.pollTick(job.ID)

		assert.Equal(t, domain.ErrorJobFailed, engine.Jobs()[0].Error)
	})

	t.Run("in-progress advances synthetic progress monotonically", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "IN_PROGRESS"}, nil
		}}
		clk := newFakeClock()
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, clk)
		job := submit(t, engine)

		clk.Advance(60 * time.Second)
		done := engine.pollTick(job.ID)
		assert.False(t, done)
		assert.InDelta(t, 30.0, engine.Jobs()[0].Progress, 0.01)

		// 10 minutes of elapsed time would exceed the cap; it clamps at 90.
		clk.Advance(10 * time.Minute)
		engine.pollTick(job.ID)
		assert.InDelta(t, 90.0, engine.Jobs()[0].Progress, 0.01)
	})

	t.Run("transport failure is a skippable tick", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{}, errors.New("connection refused")
		}}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job := submit(t, engine)

		done := engine.pollTick(job.ID)

		assert.False(t, done)
		assert.Equal(t, domain.JobStatusProcessing, engine.Jobs()[0].Status)
	})

	t.Run("unrecognized status keeps polling", func(t *testing.T) {
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "WARMING_UP"}, nil
		}}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job := submit(t, engine)

		done := engine.pollTick(job.ID)

		assert.False(t, done)
	})

	t.Run("removed job stops the loop immediately", func(t *testing.T) {
		engine := newTestEngine(&fakeRunner{}, &fakeStore{}, &fakeSink{}, newFakeClock())

		done := engine.pollTick("vanished")

		assert.True(t, done)
	})
}

func TestQueueEngineTimeout(t *testing.T) {
	runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
		return domain.RemoteStatus{Status: "IN_PROGRESS"}, nil
	}}
	store := &fakeStore{}
	engine := NewQueueEngine(runner, store, &fakeSink{}, nil, QueueOptions{
		PollInterval: 2 * time.Millisecond,
		MaxAttempts:  5,
	})

	job, err := engine.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs := engine.Jobs()
		return len(jobs) == 1 && jobs[0].Status == domain.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	jobs := engine.Jobs()
	assert.Equal(t, domain.ErrorTimeout, jobs[0].Error)
	assert.False(t, jobs[0].EndedAt.IsZero())
	_ = job
}

func TestQueueEngineCancel(t *testing.T) {
	t.Run("forces job to failed after remote cancel", func(t *testing.T) {
		engine := newTestEngine(&fakeRunner{}, &fakeStore{}, &fakeSink{}, newFakeClock())
		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)

		require.NoError(t, engine.Cancel(context.Background(), job.ID, false))

		jobs := engine.Jobs()
		assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
		assert.Equal(t, domain.ErrorCancelled, jobs[0].Error)

		// The still-running loop's next tick must no-op, not resurrect.
		assert.True(t, engine.pollTick(job.ID))
	})

	t.Run("transport failure leaves job unchanged and surfaces", func(t *testing.T) {
		runner := &fakeRunner{cancelFn: func(string) error { return errors.New("HTTP 500") }}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)

		err = engine.Cancel(context.Background(), job.ID, false)

		assert.Error(t, err)
		assert.Equal(t, domain.JobStatusProcessing, engine.Jobs()[0].Status)
	})

	t.Run("silent swallows transport failure", func(t *testing.T) {
		runner := &fakeRunner{cancelFn: func(string) error { return errors.New("HTTP 500") }}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())
		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)

		assert.NoError(t, engine.Cancel(context.Background(), job.ID, true))
	})
}

func TestQueueEngineRetry(t *testing.T) {
	t.Run("resubmits stored submission as a new job", func(t *testing.T) {
		ids := []string{"first", "second"}
		runner := &fakeRunner{submitFn: func(domain.Submission) (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		}}
		runner.statusFn = func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "FAILED", Error: "boom"}, nil
		}
		engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())

		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)
		engine.pollTick(job.ID)

		retried, err := engine.Retry(context.Background(), job.ID)

		require.NoError(t, err)
		assert.Equal(t, "second", retried.ID)
		jobs := engine.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, domain.JobStatusFailed, jobs[0].Status, "original record untouched")
		assert.Equal(t, domain.JobStatusProcessing, jobs[1].Status)
		assert.Equal(t, jobs[0].Submission.Prompt, jobs[1].Submission.Prompt)
	})

	t.Run("missing retry data fails and leaves queue unchanged", func(t *testing.T) {
		engine := newTestEngine(&fakeRunner{}, &fakeStore{}, &fakeSink{}, newFakeClock())
		job, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)

		// Simulate a record stripped of retry data by size trimming.
		engine.mu.Lock()
		engine.findLocked(job.ID).Submission = nil
		engine.mu.Unlock()

		_, err = engine.Retry(context.Background(), job.ID)

		assert.ErrorIs(t, err, domain.ErrNoRetryData)
		assert.Len(t, engine.Jobs(), 1)
	})

	t.Run("unknown job id", func(t *testing.T) {
		engine := newTestEngine(&fakeRunner{}, &fakeStore{}, &fakeSink{}, newFakeClock())

		_, err := engine.Retry(context.Background(), "nope")

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestQueueEngineClear(t *testing.T) {
	runner := &fakeRunner{}
	ids := []string{"a", "b", "c"}
	runner.submitFn = func(domain.Submission) (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	runner.statusFn = func(id string) (domain.RemoteStatus, error) {
		if id == "a" {
			return domain.RemoteStatus{Status: "COMPLETED", Video: "eA=="}, nil
		}
		return domain.RemoteStatus{Status: "FAILED"}, nil
	}
	engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, newFakeClock())

	for range 3 {
		_, err := engine.Submit(context.Background(), validSubmission())
		require.NoError(t, err)
	}
	engine.pollTick("a")
	engine.pollTick("b")

	removed := engine.ClearTerminal()

	assert.Equal(t, 2, removed)
	jobs := engine.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "c", jobs[0].ID)
}

func TestQueueEngineStart(t *testing.T) {
	t.Run("resumes processing jobs and marks completed as delivered", func(t *testing.T) {
		clk := newFakeClock()
		sub := validSubmission().Normalized()
		processing := domain.NewJob("p1", sub, clk.Now().Add(-time.Hour))
		completed := domain.NewJob("c1", sub, clk.Now().Add(-time.Hour))
		completed.Apply(domain.Event{Kind: domain.EventCompleted, At: clk.Now().Add(-30 * time.Minute)})
		stale := domain.NewJob("old", sub, clk.Now().Add(-48*time.Hour))
		stale.Apply(domain.Event{Kind: domain.EventFailed, At: clk.Now().Add(-47 * time.Hour), Reason: "x"})

		store := &fakeStore{load: []*domain.Job{processing, completed, stale}}
		sink := &fakeSink{}
		runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
			return domain.RemoteStatus{Status: "COMPLETED", Video: "eA=="}, nil
		}}
		engine := newTestEngine(runner, store, sink, clk)

		require.NoError(t, engine.Start(context.Background()))

		jobs := engine.Jobs()
		require.Len(t, jobs, 2, "stale terminal job evicted")

		engine.mu.Lock()
		_, resumed := engine.polling["p1"]
		_, delivered := engine.delivered["c1"]
		engine.mu.Unlock()
		assert.True(t, resumed, "processing job gets a poll loop")
		assert.True(t, delivered, "restored completed job marked delivered")

		// A resumed-session COMPLETED for c1 must not deliver again.
		engine.mu.Lock()
		engine.findLocked("c1").Status = domain.JobStatusProcessing
		engine.mu.Unlock()
		engine.pollTick("c1")
		_, ok := sink.payloads["c1"]
		assert.False(t, ok)
	})

	t.Run("processing jobs survive eviction regardless of age", func(t *testing.T) {
		clk := newFakeClock()
		sub := validSubmission().Normalized()
		ancient := domain.NewJob("p1", sub, clk.Now().Add(-72*time.Hour))

		store := &fakeStore{load: []*domain.Job{ancient}}
		engine := newTestEngine(&fakeRunner{}, store, &fakeSink{}, clk)

		require.NoError(t, engine.Start(context.Background()))

		assert.Len(t, engine.Jobs(), 1)
	})
}

func TestQueueEngineProgressMonotonic(t *testing.T) {
	// Progress never decreases while processing, and lands exactly on
	// 100 at the completion instant.
	clk := newFakeClock()
	statuses := []string{"IN_QUEUE", "IN_PROGRESS", "IN_PROGRESS", "COMPLETED"}
	i := 0
	runner := &fakeRunner{statusFn: func(string) (domain.RemoteStatus, error) {
		st := statuses[i]
		i++
		if st == "COMPLETED" {
			return domain.RemoteStatus{Status: st, Video: "eA=="}, nil
		}
		return domain.RemoteStatus{Status: st}, nil
	}}
	engine := newTestEngine(runner, &fakeStore{}, &fakeSink{}, clk)

	job, err := engine.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	last := float64(0)
	for range 3 {
		clk.Advance(5 * time.Second)
		engine.pollTick(job.ID)
		cur := engine.Jobs()[0].Progress
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}

	clk.Advance(5 * time.Second)
	engine.pollTick(job.ID)
	assert.Equal(t, float64(100), engine.Jobs()[0].Progress)
}

package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions occur from this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	// ErrorTimeout is set when the poll attempt cap is exhausted.
	ErrorTimeout = "Timeout"
	// ErrorMissingArtifact is set when the server reports completion
	// without any recoverable video payload.
	ErrorMissingArtifact = "No video data in response"
	// ErrorCancelled is set when the user cancels a running job.
	ErrorCancelled = "Cancelled by user"
	// ErrorJobFailed is the fallback when the server gives no reason.
	ErrorJobFailed = "Job failed"
)

// Job is one generation request and its tracked lifecycle. Mutated only
// through Apply so every state change goes through the same transition
// rules.
type Job struct {
	ID         string      `json:"id"`
	Status     JobStatus   `json:"status"`
	Prompt     string      `json:"prompt"`
	Resolution string      `json:"resolution"`
	Frames     int         `json:"frames"`
	Progress   float64     `json:"progress"`
	Error      string      `json:"error,omitempty"`
	Submission *Submission `json:"retryData,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  time.Time   `json:"startedAt"`
	EndedAt    time.Time   `json:"endedAt"`

	// Artifact holds the encoded video payload between completion and
	// delivery. It is never persisted.
	Artifact string `json:"-"`
}

func NewJob(id string, sub Submission, now time.Time) *Job {
	return &Job{
		ID:         id,
		Status:     JobStatusProcessing,
		Prompt:     sub.Prompt,
		Resolution: sub.ResolutionLabel(),
		Frames:     sub.Length,
		Progress:   0,
		Submission: &sub,
		CreatedAt:  now,
		StartedAt:  now,
	}
}

type EventKind int

const (
	// EventCompleted marks the job completed with full progress.
	EventCompleted EventKind = iota
	// EventMissingArtifact corrects an already-completed job to failed
	// because the server returned no video payload. Only status and
	// error change; endedAt keeps the completion timestamp.
	EventMissingArtifact
	// EventFailed marks the job failed with a server-supplied reason.
	EventFailed
	// EventProgress advances the synthetic progress estimate.
	EventProgress
	// EventTimeout fails the job after the poll attempt cap.
	EventTimeout
	// EventCancelled fails the job after a user cancellation.
	EventCancelled
)

type Event struct {
	Kind   EventKind
	At     time.Time
	Reason string
}

// Apply advances the job state machine. It returns false when the event
// does not apply to the current state, which lets callers no-op stale
// poll ticks instead of resurrecting a terminal job.
func (j *Job) Apply(ev Event) bool {
	switch ev.Kind {
	case EventCompleted:
		if j.Status != JobStatusProcessing {
			return false
		}
		j.Status = JobStatusCompleted
		j.Progress = 100
		j.EndedAt = ev.At
		return true

	case EventMissingArtifact:
		if j.Status != JobStatusCompleted {
			return false
		}
		j.Status = JobStatusFailed
		j.Error = ErrorMissingArtifact
		return true

	case EventFailed:
		if j.Status != JobStatusProcessing {
			return false
		}
		j.Status = JobStatusFailed
		j.Error = ev.Reason
		if j.Error == "" {
			j.Error = ErrorJobFailed
		}
		j.EndedAt = ev.At
		return true

	case EventTimeout:
		if j.Status != JobStatusProcessing {
			return false
		}
		j.Status = JobStatusFailed
		j.Error = ErrorTimeout
		j.EndedAt = ev.At
		return true

	case EventCancelled:
		if j.Status != JobStatusProcessing {
			return false
		}
		j.Status = JobStatusFailed
		j.Error = ErrorCancelled
		j.EndedAt = ev.At
		return true

	case EventProgress:
		if j.Status != JobStatusProcessing {
			return false
		}
		// Synthetic time-based estimate capped below 100 so true
		// completion stays visually distinguishable.
		p := float64(ev.At.Sub(j.StartedAt).Milliseconds()) / 2000
		if p > 90 {
			p = 90
		}
		if p > j.Progress {
			j.Progress = p
		}
		return true
	}

	return false
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func CountStats(jobs []*Job) QueueStats {
	var st QueueStats
	for _, j := range jobs {
		switch j.Status {
		case JobStatusProcessing:
			st.Processing++
		case JobStatusCompleted:
			st.Completed++
		case JobStatusFailed:
			st.Failed++
		}
	}
	return st
}

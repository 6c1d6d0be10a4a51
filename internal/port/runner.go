package port

import (
	"context"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
)

// JobRunner is the remote generation service contract. Every call is a
// network round trip and may fail by timeout, non-success status code,
// or malformed body.
type JobRunner interface {
	Submit(ctx context.Context, sub domain.Submission) (jobID string, err error)
	Status(ctx context.Context, jobID string) (domain.RemoteStatus, error)
	Cancel(ctx context.Context, jobID string) error
	Health(ctx context.Context) (domain.HealthReport, error)
}

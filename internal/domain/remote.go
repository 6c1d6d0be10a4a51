package domain

import (
	"encoding/json"
	"strings"
)

// RemoteState is the normalized view of a server-reported job status.
type RemoteState int

const (
	RemoteStateUnknown RemoteState = iota
	RemoteStateCompleted
	RemoteStateFailed
	RemoteStateInProgress
)

// RemoteStatus is the decoded body of one status poll.
type RemoteStatus struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Video  string          `json:"video,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// State normalizes the server status case-insensitively. Unrecognized
// values map to RemoteStateUnknown and the poll loop ignores them.
func (r RemoteStatus) State() RemoteState {
	switch strings.ToUpper(r.Status) {
	case "COMPLETED":
		return RemoteStateCompleted
	case "FAILED":
		return RemoteStateFailed
	case "IN_PROGRESS", "IN_QUEUE":
		return RemoteStateInProgress
	}
	return RemoteStateUnknown
}

// ArtifactPayload locates the encoded video payload, checking in order
// an output.video field, a bare string output, then a top-level video
// field.
func (r RemoteStatus) ArtifactPayload() (string, bool) {
	if len(r.Output) > 0 {
		var nested struct {
			Video string `json:"video"`
		}
		if err := json.Unmarshal(r.Output, &nested); err == nil && nested.Video != "" {
			return nested.Video, true
		}
		var bare string
		if err := json.Unmarshal(r.Output, &bare); err == nil && bare != "" {
			return bare, true
		}
	}
	if r.Video != "" {
		return r.Video, true
	}
	return "", false
}

// WorkerStats reports remote worker availability.
type WorkerStats struct {
	Ready   int `json:"ready"`
	Running int `json:"running"`
}

// HealthReport is the decoded body of a health probe. Status takes the
// synthetic values "unknown" (not configured) and "error" (unreachable)
// in addition to whatever the server reports.
type HealthReport struct {
	Status  string      `json:"status"`
	Workers WorkerStats `json:"workers"`
}

func (h HealthReport) Healthy() bool {
	return h.Status == "running" || h.Workers.Ready > 0
}

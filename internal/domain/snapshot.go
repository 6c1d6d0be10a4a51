package domain

import "encoding/json"

const (
	// maxSnapshotBytes bounds the persisted queue size; past it the
	// snapshot falls back to a trimmed representation.
	maxSnapshotBytes = 4 * 1024 * 1024
	// trimKeepRecent is how many non-processing jobs survive a trim.
	trimKeepRecent = 20
)

// EncodeQueue serializes the queue for persistence. Artifact payloads
// are excluded by the Job JSON shape, so only metadata is written. When
// the full snapshot exceeds the size bound, all processing jobs plus the
// most recent non-processing jobs are kept instead.
func EncodeQueue(jobs []*Job) ([]byte, error) {
	data, err := json.Marshal(jobs)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxSnapshotBytes {
		return data, nil
	}
	return json.Marshal(TrimQueue(jobs))
}

// TrimQueue returns the size-bounded fallback: every processing job
// followed by the trimKeepRecent most recent others.
func TrimQueue(jobs []*Job) []*Job {
	var processing, rest []*Job
	for _, j := range jobs {
		if j.Status == JobStatusProcessing {
			processing = append(processing, j)
		} else {
			rest = append(rest, j)
		}
	}
	if len(rest) > trimKeepRecent {
		rest = rest[len(rest)-trimKeepRecent:]
	}
	return append(processing, rest...)
}

// DecodeQueue deserializes a persisted snapshot. Callers treat a decode
// error as corruption: clear the stored value and start empty.
func DecodeQueue(data []byte) ([]*Job, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

package delivery

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prabinpebam/wan22-runpod/internal/port"
)

// FileSink writes completed video artifacts to a local output directory.
type FileSink struct {
	outputDir string
	now       func() time.Time
}

func NewFileSink(outputDir string) (*FileSink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{
		outputDir: outputDir,
		now:       time.Now,
	}, nil
}

// Deliver decodes the payload (data URI or bare base64) and writes it as
// an mp4 named after the job id and delivery time.
func (s *FileSink) Deliver(jobID, payload string) (string, error) {
	raw := payload
	if strings.HasPrefix(payload, "data:video/") {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("malformed video data URI for job %s", jobID)
		}
		raw = parts[1]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode video payload: %w", err)
	}

	name := fmt.Sprintf("wan22_%s_%s.mp4", shortID(jobID), s.now().UTC().Format("2006-01-02T15-04-05"))
	path := filepath.Join(s.outputDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write video file: %w", err)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ port.ArtifactSink = (*FileSink)(nil)

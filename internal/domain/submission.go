package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultLength = 81
	DefaultSteps  = 10
	DefaultSeed   = 42
	DefaultCfg    = 2.0

	MaxLoraPairs  = 4
	MaxLoraWeight = 2.0
)

// LoraPair is a high/low noise model pair with independent weights.
type LoraPair struct {
	High       string  `json:"high"`
	Low        string  `json:"low"`
	HighWeight float64 `json:"high_weight"`
	LowWeight  float64 `json:"low_weight"`
}

// Submission is the full parameter set used to create a job. It is
// immutable once attached to a job and reused verbatim for retry.
type Submission struct {
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negativePrompt,omitempty"`
	Image          string     `json:"image"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	Length         int        `json:"length"`
	Steps          int        `json:"steps"`
	Seed           int        `json:"seed"`
	Cfg            float64    `json:"cfg"`
	LoraPairs      []LoraPair `json:"loraPairs,omitempty"`
}

// Normalized fills defaults for absent or invalid numeric fields and
// clamps lora weights into [0, 2].
func (s Submission) Normalized() Submission {
	if s.Length <= 0 {
		s.Length = DefaultLength
	}
	if s.Steps <= 0 {
		s.Steps = DefaultSteps
	}
	if s.Seed <= 0 {
		s.Seed = DefaultSeed
	}
	if s.Cfg <= 0 {
		s.Cfg = DefaultCfg
	}

	pairs := make([]LoraPair, 0, len(s.LoraPairs))
	for _, p := range s.LoraPairs {
		if p.High == "" || p.Low == "" {
			continue
		}
		p.HighWeight = clampWeight(p.HighWeight)
		p.LowWeight = clampWeight(p.LowWeight)
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		pairs = nil
	}
	s.LoraPairs = pairs

	return s
}

func clampWeight(w float64) float64 {
	if w <= 0 {
		return 1.0
	}
	if w > MaxLoraWeight {
		return MaxLoraWeight
	}
	return w
}

// Validate rejects submissions before any network call is made.
func (s Submission) Validate() error {
	if !strings.HasPrefix(s.Image, "data:image/") {
		return ErrInvalidImage
	}
	if len(s.LoraPairs) > MaxLoraPairs {
		return ErrTooManyLoraPairs
	}
	return nil
}

// Base64Payload returns the pure base64 body of the image data URI;
// this is what crosses the wire.
func (s Submission) Base64Payload() string {
	if strings.HasPrefix(s.Image, "data:") {
		if parts := strings.SplitN(s.Image, ",", 2); len(parts) == 2 {
			return parts[1]
		}
	}
	return s.Image
}

func (s Submission) ResolutionLabel() string {
	return fmt.Sprintf("%d×%d", s.Width, s.Height)
}

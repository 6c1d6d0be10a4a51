package domain

import "errors"

var (
	ErrNotFound         = errors.New("job not found")
	ErrInvalidImage     = errors.New("invalid image payload")
	ErrNoRetryData      = errors.New("job has no retry data")
	ErrTooManyLoraPairs = errors.New("too many lora pairs")
)

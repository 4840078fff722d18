package recorder

import "time"

// Config tunes the capture loop of a single source.
type Config struct {
	// SegmentDuration is the nominal length of each segment.
	SegmentDuration time.Duration
	// MinSegmentBytes is the size a file must exceed to be kept when the
	// process exited with an error.
	MinSegmentBytes int64
	// MaxConsecutiveErrors moves the recorder to Failed once reached.
	MaxConsecutiveErrors int
	// RetryDelay is the base wait after a failure; it grows by one step
	// every three consecutive errors.
	RetryDelay time.Duration
	// MaxRetryDelay caps the wait between attempts.
	MaxRetryDelay time.Duration
	// ErrorResetThreshold is the continuous-success time after which the
	// error counter is cleared.
	ErrorResetThreshold time.Duration
	// ContinuityTolerance is the largest gap between successful segments
	// that still counts as continuous.
	ContinuityTolerance time.Duration
	// StopTimeout bounds the graceful exit of the process on Stop.
	StopTimeout time.Duration
	// SplitTimeout bounds the graceful exit of the process on ForceSplit.
	SplitTimeout time.Duration
	// VerifyTolerated probes files accepted despite an error exit and
	// discards those without a readable duration.
	VerifyTolerated bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SegmentDuration:      10 * time.Minute,
		MinSegmentBytes:      1024,
		MaxConsecutiveErrors: 10,
		RetryDelay:           10 * time.Second,
		MaxRetryDelay:        60 * time.Second,
		ErrorResetThreshold:  60 * time.Second,
		ContinuityTolerance:  30 * time.Second,
		StopTimeout:          10 * time.Second,
		SplitTimeout:         5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = d.SegmentDuration
	}
	if c.MinSegmentBytes <= 0 {
		c.MinSegmentBytes = d.MinSegmentBytes
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.ErrorResetThreshold <= 0 {
		c.ErrorResetThreshold = d.ErrorResetThreshold
	}
	if c.ContinuityTolerance <= 0 {
		c.ContinuityTolerance = d.ContinuityTolerance
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.SplitTimeout <= 0 {
		c.SplitTimeout = d.SplitTimeout
	}
	return c
}

// retryDelay returns the wait before the next attempt after errors consecutive failures.
func (c Config) retryDelay(errors int) time.Duration {
	d := c.RetryDelay * time.Duration(1+errors/3)
	if d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}

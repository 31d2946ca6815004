package sor

import "time"

// Config is the immutable configuration of the engine, constructed once at
// process start and passed in by reference. Business logic never reads
// ambient globals so tests can inject their own weight tables.
type Config struct {
	// Weights maps assessment ID to its contribution factor. Weights need
	// not sum to 1; normalisation is by the sum of applicable weights.
	Weights map[int64]float64

	// SkipSignature uploads the unsigned statement directly to the grading
	// target. A learner without an email address is skipped implicitly.
	SkipSignature bool

	// TargetID is the grading target (course module) receiving submissions.
	TargetID int64

	// DocumentDir is where rendered artifacts are written.
	DocumentDir string

	// MaxSignatureWait bounds how long a request may sit in signature_sent
	// before polling logs a timeout warning. The request is never auto
	// failed; a human signer may still complete it later.
	MaxSignatureWait time.Duration

	// OverdueThreshold feeds the dashboard's overdue count.
	OverdueThreshold time.Duration

	// ParallelCount shards batch sweeps across workers by request ID. At
	// most one worker ever drives a given request.
	ParallelCount int

	// ListLimit bounds how many requests one sweep picks up.
	ListLimit int
}

const (
	defaultMaxSignatureWait = 60 * time.Minute
	defaultOverdueThreshold = 7 * 24 * time.Hour
	defaultListLimit        = 100
)

func (c Config) withDefaults() Config {
	if c.MaxSignatureWait == 0 {
		c.MaxSignatureWait = defaultMaxSignatureWait
	}
	if c.OverdueThreshold == 0 {
		c.OverdueThreshold = defaultOverdueThreshold
	}
	if c.ParallelCount < 1 {
		c.ParallelCount = 1
	}
	if c.ListLimit == 0 {
		c.ListLimit = defaultListLimit
	}

	return c
}

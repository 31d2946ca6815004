package sor

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrRecordNotFound is returned by RequestStore implementations when no
	// request exists for the given ID.
	ErrRecordNotFound = errors.New("sor request not found", j.C("ERR_8f2c1d74aa90e3b5"))

	// ErrDataUnavailable indicates the learner or their assessment results
	// could not be found in the data source. Hard failure.
	ErrDataUnavailable = errors.New("learner data unavailable", j.C("ERR_4be9a02c17d5f688"))

	// ErrValidation indicates mandatory learner fields are missing. Hard failure.
	ErrValidation = errors.New("learner data failed validation", j.C("ERR_d1073cbe5f6a42e9"))

	// ErrRender indicates document generation failed. Hard failure.
	ErrRender = errors.New("document rendering failed", j.C("ERR_72e5ab90c3d1648f"))

	// ErrProviderUnavailable indicates a signature or grading collaborator
	// failed. Soft on first occurrence; the next sweep retries the same step.
	ErrProviderUnavailable = errors.New("provider unavailable", j.C("ERR_3a64f1887be02cd5"))

	// ErrNotReady is a wait state, not an error state. The signature provider
	// has acknowledged the request but the artifact is not available yet.
	ErrNotReady = errors.New("document not ready", j.C("ERR_95c03d2e6b81f7a4"))

	// ErrPersistence indicates the request store failed a write. Never
	// swallowed as the store is the single source of truth for status.
	ErrPersistence = errors.New("request store write failed", j.C("ERR_60db84c9f2a731e6"))

	ErrIllegalTransition = errors.New("illegal status transition", j.C("ERR_b7f6290d4c15a8e3"))
	ErrUnknownStatus     = errors.New("unknown status value", j.C("ERR_1c98e4d5027bf36a"))
)

package article

import (
	"errors"
	"fmt"
	"net/http"
)

// Run-level error classes. Component errors wrap one of these so callers can
// branch with errors.Is.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Stage names a step of the per-item pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageSummarize Stage = "summarize"
)

// Kind classifies a per-item failure.
type Kind string

const (
	KindTimeout             Kind = "timeout"
	KindNetwork             Kind = "network_error"
	KindHTTP                Kind = "http_error"
	KindBlocked             Kind = "blocked"
	KindInvalidRequest      Kind = "invalid_request"
	KindCancelled           Kind = "cancelled"
	KindInsufficientContent Kind = "insufficient_content"
	KindUnsupportedContent  Kind = "unsupported_content"
	KindRateLimited         Kind = "rate_limited"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindMalformedResponse   Kind = "malformed_response"
	KindRejected            Kind = "rejected"
)

// Failure is the outcome of a per-item operation that did not succeed. It is
// stored on the item rather than aborting the run.
type Failure struct {
	Stage    Stage
	Kind     Kind
	Status   int
	Attempts int
	Detail   string
	Err      error
}

// NewFailure builds a Failure wrapping err.
func NewFailure(stage Stage, kind Kind, err error) *Failure {
	return &Failure{Stage: stage, Kind: kind, Err: err}
}

// HTTPFailure builds an http_error failure for a non-2xx status.
func HTTPFailure(status int) *Failure {
	return &Failure{
		Stage:  StageFetch,
		Kind:   KindHTTP,
		Status: status,
		Err:    fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Stage, f.Kind)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (%d)", f.Status)
	}
	if f.Detail != "" {
		msg += " [" + f.Detail + "]"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient reports whether retrying the operation may succeed.
func (f *Failure) Transient() bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case KindTimeout, KindNetwork, KindRateLimited, KindServiceUnavailable:
		return true
	case KindHTTP:
		return f.Status == http.StatusTooManyRequests || f.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// IsTransient reports whether err is a transient *Failure.
func IsTransient(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Transient()
	}
	return false
}

// AsFailure returns err as a *Failure, wrapping anything else as a failure of
// the given stage and kind.
func AsFailure(err error, stage Stage, kind Kind) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewFailure(stage, kind, err)
}

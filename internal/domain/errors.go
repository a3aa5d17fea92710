package domain

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors by scope and recovery policy.
type Kind string

const (
	// KindConfig is fatal at startup (exit code 3).
	KindConfig Kind = "config"
	// KindAuthRevoked is channel-scoped: the refresh token is invalid or
	// revoked. The channel is skipped and surfaced, never retried in-run.
	KindAuthRevoked Kind = "auth_revoked"
	// KindQuotaExceeded is run-scoped: the provider signalled a rate or
	// quota cap. The run halts with partial status.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindPermanentReject is operation-scoped: a 4xx other than auth or
	// quota. Logged, never retried.
	KindPermanentReject Kind = "permanent_reject"
	// KindTransient is operation-scoped: 5xx or network failure. Retried
	// with backoff up to the attempt bound.
	KindTransient Kind = "transient"
	// KindSchemaMismatch signals drift between the declared and actual
	// store schema.
	KindSchemaMismatch Kind = "schema_mismatch"
	// KindIntegrityViolation signals a broken invariant.
	KindIntegrityViolation Kind = "integrity_violation"
)

// Error is the pipeline's error type. It carries the classification plus
// enough context (operation, optional channel) for one structured log line.
type Error struct {
	Kind      Kind
	Op        string
	ChannelID string
	Table     string
	Column    string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.ChannelID != "" {
		s += " channel=" + e.ChannelID
	}
	if e.Table != "" {
		s += " table=" + e.Table
		if e.Column != "" {
			s += " column=" + e.Column
		}
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error without a wrapped cause.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors report KindTransient, the safe default for outbound calls.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the orchestrator may retry the operation.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

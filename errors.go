package loqui

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies why a mutation or load failed. The kind decides
// what the coordinator does with the optimistic state (retry, rollback, or
// local removal) and what the caller should present.
type FailureKind string

const (
	// FailureNetwork is transient: the mutation was rolled back and the
	// caller may retry.
	FailureNetwork FailureKind = "network"

	// FailureAuthorizationDenied covers permission, ban, and block
	// rejections. Surfaced as a user-visible reason; retrying is pointless.
	FailureAuthorizationDenied FailureKind = "authorization_denied"

	// FailureValidation means the input was malformed. Rejected before any
	// optimistic mutation is applied.
	FailureValidation FailureKind = "validation"

	// FailureNotFound means the referenced entity vanished server-side.
	// The coordinator removes it locally instead of rolling back.
	FailureNotFound FailureKind = "not_found"

	// FailureConflict is a stale-version rejection on a toggle. The
	// authoritative push event is the resolution, not an error path.
	FailureConflict FailureKind = "conflict"
)

// Failure is the structured error every engine operation reports outward:
// a kind plus a human-readable reason, wrapping the underlying cause.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts the *Failure from an error chain, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func newFailure(kind FailureKind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

func validationf(format string, args ...any) *Failure {
	return &Failure{Kind: FailureValidation, Reason: fmt.Sprintf(format, args...)}
}

// classifyStatus maps an HTTP status and optional API error body onto a
// failure kind. Error codes take precedence over the status because the
// server reports block/ban rejections as 403 with distinguishing codes.
func classifyStatus(status int, apiErr *APIError) *Failure {
	reason := http.StatusText(status)
	var cause error
	if apiErr != nil {
		reason = apiErr.Message
		cause = apiErr
	}

	kind := FailureNetwork
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = FailureAuthorizationDenied
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = FailureNotFound
	case status == http.StatusConflict:
		kind = FailureConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = FailureValidation
	}

	if apiErr != nil {
		switch apiErr.Code {
		case "BLOCKED", "BANNED", "FORBIDDEN":
			kind = FailureAuthorizationDenied
		case "NOT_FOUND":
			kind = FailureNotFound
		case "STALE_VERSION", "CONFLICT":
			kind = FailureConflict
		}
	}

	return &Failure{Kind: kind, Reason: reason, Err: cause}
}

// asEngineFailure normalizes any error crossing the mutation boundary into
// a *Failure. Transport errors without a classification are transient.
func asEngineFailure(err error) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	return &Failure{Kind: FailureNetwork, Reason: "request failed", Err: err}
}

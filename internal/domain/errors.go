// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an operation was rejected because the target is
// already in a terminal state (e.g. re-responding to a decided approval).
var ErrConflict = errors.New("conflict: already processed")

// ErrAuthenticationFailed indicates a webhook signature was present but
// did not match the computed HMAC.
var ErrAuthenticationFailed = errors.New("authentication failed: invalid signature")

// ErrParse indicates a malformed payload or a missing required field.
var ErrParse = errors.New("parse error")

// ErrRemoteFetch indicates a read from the remote backend failed during
// an operation that cannot proceed without it.
var ErrRemoteFetch = errors.New("remote fetch failed")

// ErrScaffold indicates the local project bootstrap step failed.
// A partially created working directory may be left behind; it is not
// cleaned up automatically.
var ErrScaffold = errors.New("scaffold failed")

// ErrLocalPersist indicates a local database write failed.
var ErrLocalPersist = errors.New("local persist failed")

// RemoteError carries the upstream HTTP status and response body from a
// failed call to the remote backend.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.Status, e.Body)
}

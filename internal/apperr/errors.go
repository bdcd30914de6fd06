// Package apperr defines sentinel errors shared across the agent.
package apperr

import "errors"

// ErrSyncActive reports that a sync run is already in flight. Manual
// triggers surface it to the caller; automatic triggers re-arm and retry
// after the current run releases the guard.
var ErrSyncActive = errors.New("sync already in progress")

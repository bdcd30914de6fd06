package remote

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// StatusResponse is the server's view of the synced vault.
type StatusResponse struct {
	VaultName    string                `json:"vault_name"`
	LastSync     *time.Time            `json:"last_sync"`
	TotalNotes   int                   `json:"total_notes"`
	IndexedNotes int                   `json:"indexed_notes"`
	PendingNotes int                   `json:"pending_notes"`
	Exclusions   models.ExclusionRules `json:"exclusions"`
}

// SyncRequest is one batch of note payloads.
type SyncRequest struct {
	BatchID   string        `json:"batch_id"`
	Notes     []models.Note `json:"notes"`
	Final     bool          `json:"final"`
	VaultName string        `json:"vault_name,omitempty"`
}

// NoteError is a per-note failure inside an otherwise accepted batch.
type NoteError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SyncResponse reports what the server did with one batch.
type SyncResponse struct {
	BatchID   string      `json:"batch_id"`
	Processed int         `json:"processed"`
	Indexed   int         `json:"indexed"`
	Errors    []NoteError `json:"errors,omitempty"`
}

// DeleteRequest names the notes to remove from the server.
type DeleteRequest struct {
	Paths []string `json:"paths"`
}

// DeleteResponse reports which notes the server removed.
type DeleteResponse struct {
	Deleted int      `json:"deleted"`
	Paths   []string `json:"paths"`
}

// UpdateExclusionsResponse reports the outcome of replacing the server-side
// exclusion rules, including notes purged as a result.
type UpdateExclusionsResponse struct {
	Updated      bool     `json:"updated"`
	RemovedCount int      `json:"removed_count"`
	RemovedPaths []string `json:"removed_paths,omitempty"`
}

// ErrorDetail is the structured error payload inside a non-2xx response.
type ErrorDetail struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// ErrorBody is the error envelope the server returns on non-2xx responses.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// APIError is a typed non-2xx response carrying the HTTP status, the
// machine-readable code, and optional per-field validation details.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string][]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: server returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether the response is worth retrying. Server errors
// and 429 are transient; other client errors are structural and will not
// resolve by waiting.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

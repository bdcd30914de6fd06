package models

import "time"

// ExclusionRules describes which notes must never leave the client: folder
// path prefixes and tag predicates. Matching is union semantics, any rule
// hit excludes the note.
type ExclusionRules struct {
	Folders []string `json:"excluded_folders"`
	Tags    []string `json:"excluded_tags"`
}

// SyncState is the durable record of what the server is believed to hold.
// A path present in Hashes is assumed to exist on the server with exactly
// that content hash; absence means the server should not have it.
type SyncState struct {
	Hashes     map[string]string `json:"hashes"`
	LastSync   *time.Time        `json:"last_sync,omitempty"`
	Exclusions ExclusionRules    `json:"exclusions"`
}

// NewSyncState returns an empty sync state.
func NewSyncState() *SyncState {
	return &SyncState{Hashes: make(map[string]string)}
}

// SyncDiff is the transient result of comparing a vault snapshot against
// the tracked state. Never persisted.
type SyncDiff struct {
	Changed []string
	Deleted []string
}

// Empty reports whether the diff contains no work.
func (d SyncDiff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Deleted) == 0
}

// SyncPhase is the coarse state carried by a status event.
type SyncPhase string

const (
	PhaseIdle    SyncPhase = "idle"
	PhaseSyncing SyncPhase = "syncing"
	PhaseError   SyncPhase = "error"
)

// SyncStatus is a transient progress snapshot pushed to observers. Each
// emission supersedes the previous one; it carries no identity.
type SyncStatus struct {
	Phase   SyncPhase `json:"phase"`
	Message string    `json:"message,omitempty"`
	Synced  int       `json:"synced"`
	Total   int       `json:"total"`
	At      time.Time `json:"at"`
}

// EventOp identifies what happened to a vault file.
type EventOp string

const (
	OpCreated  EventOp = "created"
	OpModified EventOp = "modified"
	OpDeleted  EventOp = "deleted"
	OpRenamed  EventOp = "renamed"
)

// VaultEvent is the inbound message shape delivered by the host file-change
// source. OldPath is set only for renames.
type VaultEvent struct {
	Op      EventOp `json:"op"`
	Path    string  `json:"path"`
	OldPath string  `json:"old_path,omitempty"`
}

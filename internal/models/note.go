// Package models defines the domain types for the Second Brain sync agent.
package models

import "time"

// Note is the full representation of a vault note as it is sent to the
// Second Brain service. A Note is produced fresh on every scan and never
// mutated in place: a changed file yields a new value.
type Note struct {
	Path        string         `json:"path"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Tags        []string       `json:"tags,omitempty"`
	Headings    []string       `json:"headings,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	WordCount   int            `json:"word_count"`
	CreatedAt   time.Time      `json:"created_at"`
	ModifiedAt  time.Time      `json:"modified_at"`
}

// FileInfo is a lightweight representation returned by vault list operations.
type FileInfo struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	ModTime     time.Time `json:"mod_time"`
}

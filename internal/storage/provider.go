// Package storage defines the vault file-system abstraction. The sync agent
// only ever reads the vault; all mutation happens through the user's editor.
package storage

import (
	"io/fs"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// Provider is the interface for vault read operations.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]models.FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Stat returns file-system metadata for a single vault file.
	Stat(path string) (fs.FileInfo, error)
}

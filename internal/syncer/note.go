package syncer

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/checksum"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/parser"
)

// creation timestamp layouts accepted from frontmatter.
var createdLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

// buildNote reads a vault file and derives the full note payload: content
// hash, parsed metadata, and timestamps.
func (s *Syncer) buildNote(p string) (*models.Note, error) {
	data, err := s.vault.Read(p)
	if err != nil {
		return nil, fmt.Errorf("syncer: read note: %w", err)
	}
	info, err := s.vault.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("syncer: stat note: %w", err)
	}

	res := parser.Parse(data)
	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(p), ".md")
	}
	modified := info.ModTime().UTC()

	return &models.Note{
		Path:        p,
		Title:       title,
		Content:     string(data),
		ContentHash: checksum.Sum(data),
		Tags:        res.Tags,
		Headings:    res.Headings,
		Links:       res.Links,
		Frontmatter: res.Frontmatter,
		WordCount:   res.WordCount,
		CreatedAt:   createdFrom(res.Frontmatter, modified),
		ModifiedAt:  modified,
	}, nil
}

// createdFrom derives the creation timestamp from the frontmatter "created"
// or "date" keys, falling back to the file modification time.
func createdFrom(fm map[string]any, fallback time.Time) time.Time {
	for _, key := range []string{"created", "date"} {
		switch v := fm[key].(type) {
		case time.Time:
			return v.UTC()
		case string:
			for _, layout := range createdLayouts {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts.UTC()
				}
			}
		}
	}
	return fallback
}

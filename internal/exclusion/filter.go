// Package exclusion evaluates folder and tag rules against vault notes.
// Matching is union semantics: a note matching any folder prefix or any
// tag rule is excluded from sync.
package exclusion

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// Filter holds the active exclusion rule set. The rule set can be swapped
// at any time; checks made after an Update see the new rules, notes synced
// under the old rules are not re-evaluated.
type Filter struct {
	mu      sync.RWMutex
	folders []string            // normalized with trailing slash
	tags    map[string]struct{} // keyed by bare tag name, no '#'
}

// New creates a Filter with the given initial rules.
func New(rules models.ExclusionRules) *Filter {
	f := &Filter{}
	f.Update(rules)
	return f
}

// Update replaces the active rule set.
func (f *Filter) Update(rules models.ExclusionRules) {
	folders := make([]string, 0, len(rules.Folders))
	for _, raw := range rules.Folders {
		if p := NormalizeFolder(raw); p != "" {
			folders = append(folders, p)
		}
	}
	tags := make(map[string]struct{}, len(rules.Tags))
	for _, raw := range rules.Tags {
		if t := NormalizeTag(raw); t != "" {
			tags[strings.TrimPrefix(t, "#")] = struct{}{}
		}
	}
	f.mu.Lock()
	f.folders = folders
	f.tags = tags
	f.mu.Unlock()
}

// Rules returns a snapshot of the active rule set in canonical form.
func (f *Filter) Rules() models.ExclusionRules {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := models.ExclusionRules{
		Folders: append([]string(nil), f.folders...),
		Tags:    make([]string, 0, len(f.tags)),
	}
	for t := range f.tags {
		out.Tags = append(out.Tags, "#"+t)
	}
	sort.Strings(out.Tags)
	return out
}

// ExcludedPath reports whether path alone matches a folder rule. This is the
// cheap pre-check used before note content, and therefore its tag set, is
// available. A note passing this check may still be excluded by Excluded once
// tags are known.
func (f *Filter) ExcludedPath(p string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pathMatches(p)
}

// Excluded reports whether a note at path with the given tags matches any
// rule. Tags match with or without a leading '#'.
func (f *Filter) Excluded(p string, tags []string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.pathMatches(p) {
		return true
	}
	for _, raw := range tags {
		t := strings.TrimPrefix(strings.TrimSpace(raw), "#")
		if t == "" {
			continue
		}
		if _, ok := f.tags[t]; ok {
			return true
		}
	}
	return false
}

// FilterFiles returns the subset of files whose paths pass the folder rules.
func (f *Filter) FilterFiles(files []models.FileInfo) []models.FileInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.FileInfo, 0, len(files))
	for _, fi := range files {
		if !f.pathMatches(fi.Path) {
			out = append(out, fi)
		}
	}
	return out
}

// pathMatches must be called with the lock held.
func (f *Filter) pathMatches(p string) bool {
	candidate := strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	for _, prefix := range f.folders {
		// Append a separator to the candidate so a path equal to the folder
		// itself also matches.
		if strings.HasPrefix(candidate+"/", prefix) {
			return true
		}
	}
	return false
}

// NormalizeFolder returns the canonical form of a folder rule: slash
// separated, relative to the vault root, with a trailing slash. Blank
// rules normalize to "".
func NormalizeFolder(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return ""
	}
	s = path.Clean(s)
	if s == "." || s == "/" {
		return ""
	}
	return s + "/"
}

// NormalizeTag returns the canonical form of a tag rule with a leading '#'.
// Blank rules normalize to "".
func NormalizeTag(raw string) string {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if s == "" {
		return ""
	}
	return "#" + s
}

// Normalize returns a copy of rules with every entry in canonical form and
// blank entries dropped.
func Normalize(rules models.ExclusionRules) models.ExclusionRules {
	out := models.ExclusionRules{}
	for _, raw := range rules.Folders {
		if p := NormalizeFolder(raw); p != "" {
			out.Folders = append(out.Folders, p)
		}
	}
	for _, raw := range rules.Tags {
		if t := NormalizeTag(raw); t != "" {
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}

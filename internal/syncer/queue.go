package syncer

import (
	"sort"
	"sync"
)

// queue holds the pending change and delete sets. The sets are mutually
// exclusive: queueing a path for deletion removes it from the change set
// and vice versa, so a delete arriving after an unflushed change wins.
type queue struct {
	mu      sync.Mutex
	changed map[string]struct{}
	deleted map[string]struct{}
}

func newQueue() *queue {
	return &queue{
		changed: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

func (q *queue) addChange(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.deleted, path)
	q.changed[path] = struct{}{}
}

func (q *queue) addDelete(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.changed, path)
	q.deleted[path] = struct{}{}
}

// drain atomically snapshots and clears both sets. Results are sorted so
// batch composition is deterministic.
func (q *queue) drain() (changed, deleted []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for path := range q.changed {
		changed = append(changed, path)
	}
	for path := range q.deleted {
		deleted = append(deleted, path)
	}
	q.changed = make(map[string]struct{})
	q.deleted = make(map[string]struct{})
	sort.Strings(changed)
	sort.Strings(deleted)
	return changed, deleted
}

func (q *queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.changed) == 0 && len(q.deleted) == 0
}

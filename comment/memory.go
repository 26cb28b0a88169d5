package comment

import (
	"context"
	"sync"
)

// Memory is a map-backed Store with subscriber fan-out. It backs tests and
// the demo server; everything is lost on process exit.
type Memory struct {
	mu     sync.Mutex
	pages  map[string][]Annotation
	subs   map[string]map[int]func([]Annotation)
	nextID int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pages: make(map[string][]Annotation),
		subs:  make(map[string]map[int]func([]Annotation)),
	}
}

// LoadAll returns a copy of the page's annotations.
func (m *Memory) LoadAll(_ context.Context, pageKey string) ([]Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAnnotations(m.pages[pageKey]), nil
}

// SaveAll replaces the page's annotations and notifies subscribers.
func (m *Memory) SaveAll(_ context.Context, pageKey string, anns []Annotation) error {
	m.mu.Lock()
	m.pages[pageKey] = cloneAnnotations(anns)
	var fns []func([]Annotation)
	for _, fn := range m.subs[pageKey] {
		fns = append(fns, fn)
	}
	snapshot := cloneAnnotations(anns)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(cloneAnnotations(snapshot))
	}
	return nil
}

// Subscribe registers fn for pageKey changes.
func (m *Memory) Subscribe(pageKey string, fn func([]Annotation)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[pageKey] == nil {
		m.subs[pageKey] = make(map[int]func([]Annotation))
	}
	id := m.nextID
	m.nextID++
	m.subs[pageKey][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[pageKey], id)
	}
}

func cloneAnnotations(in []Annotation) []Annotation {
	if in == nil {
		return nil
	}
	out := make([]Annotation, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Replies != nil {
			replies := make([]Reply, len(out[i].Replies))
			copy(replies, out[i].Replies)
			out[i].Replies = replies
		}
	}
	return out
}

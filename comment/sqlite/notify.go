package sqlite

import (
	"context"
	"sync"

	"github.com/pinlay/pinlay/comment"
)

// notifier adds the optional push side to the Store: in-process saves
// notify directly, and a Watcher covers writes from other processes.
type notifier struct {
	mu     sync.Mutex
	subs   map[string]map[int]func([]comment.Annotation)
	nextID int
}

// Subscribe registers fn for a page's changes. The returned func
// unsubscribes.
func (s *Store) Subscribe(pageKey string, fn func([]comment.Annotation)) func() {
	n := &s.notify
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[string]map[int]func([]comment.Annotation))
	}
	if n.subs[pageKey] == nil {
		n.subs[pageKey] = make(map[int]func([]comment.Annotation))
	}
	id := n.nextID
	n.nextID++
	n.subs[pageKey][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[pageKey], id)
	}
}

// notifyPage pushes the page's current annotations to its subscribers.
func (s *Store) notifyPage(ctx context.Context, pageKey string) {
	n := &s.notify
	n.mu.Lock()
	var fns []func([]comment.Annotation)
	for _, fn := range n.subs[pageKey] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	anns, err := s.LoadAll(ctx, pageKey)
	if err != nil {
		return
	}
	for _, fn := range fns {
		fn(anns)
	}
}

// subscribedPages returns the pages that currently have subscribers.
func (s *Store) subscribedPages() []string {
	n := &s.notify
	n.mu.Lock()
	defer n.mu.Unlock()

	var pages []string
	for page, subs := range n.subs {
		if len(subs) > 0 {
			pages = append(pages, page)
		}
	}
	return pages
}

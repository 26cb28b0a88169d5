// Package comment defines the annotation data model and the store contract
// the anchoring engine consumes.
//
// Annotations are exclusively owned by the store; the engine reads them and
// requests mutations, holding no independent copy beyond the current render
// pass. Positions are document-space only — viewport coordinates are never
// persisted.
package comment

import (
	"context"
	"errors"
	"strings"

	"github.com/pinlay/pinlay/geom"
)

// ErrInvalidPosition rejects annotations whose coordinates are not finite
// numbers. Such records must never be persisted or rendered.
var ErrInvalidPosition = errors.New("comment: position is not finite")

// ErrMissingPage rejects annotations without an owning page key.
var ErrMissingPage = errors.New("comment: page key is required")

// Annotation is one positioned, threaded comment pinned to a page.
type Annotation struct {
	ID      string `json:"id"`
	PageKey string `json:"page_key"`

	// X, Y are document-space coordinates: valid regardless of the
	// current scroll position.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	Body      string `json:"body"`
	Author    string `json:"author"`
	CreatedAt int64  `json:"created_at"` // epoch milliseconds
	Resolved  bool   `json:"resolved"`

	// Selector is the best-effort CSS anchor, empty when no suitable
	// element was found under the click point.
	Selector string `json:"selector,omitempty"`

	// Replies are ordered by creation and immutable once created.
	Replies []Reply `json:"replies,omitempty"`
}

// Reply is one message in an annotation's thread.
type Reply struct {
	ID           string `json:"id"`
	AnnotationID string `json:"annotation_id"`
	Body         string `json:"body"`
	Author       string `json:"author"`
	CreatedAt    int64  `json:"created_at"`
}

// Point returns the annotation's document-space position.
func (a *Annotation) Point() geom.Point { return geom.Point{X: a.X, Y: a.Y} }

// Validate checks the invariants a persisted annotation must satisfy.
func (a *Annotation) Validate() error {
	if !a.Point().Finite() {
		return ErrInvalidPosition
	}
	if a.PageKey == "" {
		return ErrMissingPage
	}
	return nil
}

// PageKey derives the owning-page identifier from a path and fragment.
// The fragment distinguishes hash-routed views of the same path.
func PageKey(path, hash string) string {
	if path == "" {
		path = "/"
	}
	hash = strings.TrimPrefix(hash, "#")
	if hash == "" {
		return path
	}
	return path + "#" + hash
}

// Store is the persistence contract. Implementations: memory (tests,
// demo), sqlite (local), restclient (remote service).
type Store interface {
	// LoadAll returns the annotations belonging to a page.
	LoadAll(ctx context.Context, pageKey string) ([]Annotation, error)
	// SaveAll replaces the page's annotations. Last write wins; callers
	// log failures and keep optimistic state rather than rolling back.
	SaveAll(ctx context.Context, pageKey string, anns []Annotation) error
}

// Subscriber is the optional push side of a store. Subscribe registers a
// callback invoked with the page's full annotation list after each change;
// the returned func unsubscribes.
type Subscriber interface {
	Subscribe(pageKey string, fn func([]Annotation)) (unsubscribe func())
}

// Package anchor generates and resolves the CSS selectors that tie an
// annotation to a DOM element.
//
// Selector generation is a best-effort heuristic, not a CSS-spec-correct
// uniqueness algorithm: an id wins outright, otherwise a short child path
// of tag/class/nth-of-type steps is built from the element upward. A
// selector that no longer resolves is not an error — the annotation
// degrades to position-only and hover/drop highlighting is skipped.
package anchor

import (
	"strconv"
	"strings"

	"github.com/pinlay/pinlay/dom"
)

// MaxDepth caps how many ancestor levels a generated path may contain,
// bounding selector length on deeply nested pages.
const MaxDepth = 5

// rootTags terminate the ancestor walk; anchoring to them is meaningless.
var rootTags = map[string]bool{
	"html": true,
	"body": true,
}

// Generate builds a selector for el. Returns "" for nil elements and for
// the document root tags themselves.
func Generate(el *dom.Element) string {
	if el == nil || rootTags[el.Tag()] {
		return ""
	}

	// Ids are assumed page-unique: shortest possible anchor.
	if el.ID() != "" {
		return "#" + el.ID()
	}

	var path []string
	cur := el
	for cur != nil && !rootTags[cur.Tag()] && len(path) < MaxDepth {
		path = append([]string{segmentFor(cur)}, path...)
		if cur.ID() != "" {
			// An ancestor id pins the path; nothing above it adds
			// specificity.
			break
		}
		cur = cur.Parent()
	}

	return strings.Join(path, " > ")
}

func segmentFor(el *dom.Element) string {
	seg := el.Tag()

	if el.ID() != "" {
		return seg + "#" + el.ID()
	}

	if classes := el.Classes(); len(classes) > 0 {
		seg += "." + strings.Join(classes, ".")
	}

	// nth-of-type only when the position is ambiguous among same-tag
	// siblings.
	if el.SameTagSiblings() > 1 {
		seg += ":nth-of-type(" + strconv.Itoa(el.SameTagIndex()) + ")"
	}
	return seg
}

// Resolve locates the element a stored selector refers to, degrading
// gracefully: exact match first, then the last path segment alone, then a
// bare id lookup. Returns nil when nothing matches or the selector is
// malformed; it never panics.
func Resolve(doc *dom.Document, selector string) *dom.Element {
	if doc == nil || selector == "" {
		return nil
	}

	if el, err := doc.Query(selector); err == nil && el != nil {
		return el
	}

	// The full path may have been invalidated by a re-render while the
	// target itself survived. Retry with the final segment only.
	if i := strings.LastIndex(selector, " > "); i >= 0 {
		last := selector[i+len(" > "):]
		if el, err := doc.Query(last); err == nil && el != nil {
			return el
		}
	}

	if strings.HasPrefix(selector, "#") {
		return doc.ByID(strings.TrimPrefix(selector, "#"))
	}
	return nil
}

// Package picker chooses the most useful anchor target from the element
// stack under a click point.
//
// The policy is heuristic but deterministic: given the same stack and
// viewport metrics it always returns the same candidate, so fixed DOM
// fixtures can assert exact outcomes. Thresholds live on Config — they are
// tunable parameters, not load-bearing constants.
package picker

import "github.com/pinlay/pinlay/dom"

// Candidate is one entry of a hit-test stack (top-most first, the order
// elementsFromPoint reports).
type Candidate struct {
	// Element is an optional back-reference into a parsed document. The
	// picker itself only reads Tag and the box metrics, so tests can
	// build candidates without a document.
	Element *dom.Element

	Tag    string
	Width  float64
	Height float64

	// InOverlay marks elements inside the annotation widget's own
	// subtree. Self-referential anchors are invalid.
	InOverlay bool
}

// Viewport carries the visible dimensions used for the oversize test.
type Viewport struct {
	Width  float64
	Height float64
}

// Config holds the picking thresholds.
type Config struct {
	// MinDimension rejects candidates thinner than this in either axis
	// (decorative glyphs, hairline rules).
	MinDimension float64
	// MinArea rejects candidates whose bounding box is below this many
	// square pixels.
	MinArea float64
	// MaxViewportFraction rejects candidates wider or taller than this
	// fraction of the viewport (full-page wrappers).
	MaxViewportFraction float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinDimension:        12,
		MinArea:             400,
		MaxViewportFraction: 0.9,
	}
}

// containerTags are never useful anchors regardless of size.
var containerTags = map[string]bool{
	"html": true,
	"body": true,
}

// inlineTags are typographic elements that tend to be unstable across
// re-renders and rarely correspond to what the user meant to annotate.
var inlineTags = map[string]bool{
	"span": true, "em": true, "strong": true, "b": true, "i": true,
	"u": true, "small": true, "sub": true, "sup": true, "label": true,
	"abbr": true, "code": true, "mark": true, "s": true, "q": true,
}

// preferredTags are semantic blocks and common interactive/content
// elements, favoured over generic containers within the size band.
var preferredTags = map[string]bool{
	"section": true, "article": true, "aside": true, "header": true,
	"footer": true, "nav": true, "main": true, "figure": true,
	"button": true, "a": true, "input": true, "textarea": true,
	"select": true, "img": true, "table": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "p": true, "li": true, "ul": true, "ol": true,
	"blockquote": true, "pre": true,
}

// Pick selects the anchor target from a hit-test stack, or nil when the
// stack holds nothing worth anchoring to.
func Pick(stack []Candidate, vp Viewport, cfg Config) *Candidate {
	var inBand []*Candidate
	var fallback *Candidate

	for i := range stack {
		c := &stack[i]
		if c.InOverlay || containerTags[c.Tag] || inlineTags[c.Tag] {
			continue
		}
		if cfg.oversized(c, vp) {
			continue
		}
		if fallback == nil {
			fallback = c
		}
		if cfg.tooSmall(c) {
			continue
		}
		inBand = append(inBand, c)
	}

	// Within the band, semantic tags win; stack order breaks ties.
	for _, c := range inBand {
		if preferredTags[c.Tag] {
			return c
		}
	}
	if len(inBand) > 0 {
		return inBand[0]
	}
	return fallback
}

func (cfg Config) oversized(c *Candidate, vp Viewport) bool {
	if vp.Width <= 0 || vp.Height <= 0 {
		return false
	}
	return c.Width > vp.Width*cfg.MaxViewportFraction ||
		c.Height > vp.Height*cfg.MaxViewportFraction
}

func (cfg Config) tooSmall(c *Candidate) bool {
	return c.Width < cfg.MinDimension ||
		c.Height < cfg.MinDimension ||
		c.Width*c.Height < cfg.MinArea
}

// FromElement builds a Candidate for a parsed element with known box
// metrics. overlayRoot, when non-nil, marks the widget's own subtree.
func FromElement(el *dom.Element, w, h float64, overlayRoot *dom.Element) Candidate {
	return Candidate{
		Element:   el,
		Tag:       el.Tag(),
		Width:     w,
		Height:    h,
		InOverlay: overlayRoot != nil && overlayRoot.Contains(el),
	}
}

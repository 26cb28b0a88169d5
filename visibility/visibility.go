// Package visibility decides which pins should be mounted for a render
// pass. The filter is pure: given the same annotations, frame, and state it
// returns the same answer and mutates nothing, so it is testable
// independent of rendering.
package visibility

import (
	"math"
	"time"

	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/geom"
)

// MaxCoordinate bounds plausible document coordinates. Anything beyond is
// treated as corrupt data and excluded unconditionally.
const MaxCoordinate = 1e7

// DefaultMargin expands the visible rectangle so pins do not blink out
// right at the edge mid-scroll.
const DefaultMargin = 100

// DefaultDropGrace keeps a just-dropped pin mounted while the layout
// settles after the mutation, preventing pop-out flicker.
const DefaultDropGrace = 1500 * time.Millisecond

// State is the per-render-pass input beyond the frame itself.
type State struct {
	// SidebarOpen and SidebarWidth describe a docked sidebar occluding
	// the right edge of the viewport.
	SidebarOpen  bool
	SidebarWidth float64

	// DraggingID is the pin currently mid-drag, always rendered.
	DraggingID string
	// ActiveThreadID is the pin whose thread panel is open, always
	// rendered.
	ActiveThreadID string
	// DroppedAt maps pin IDs to their last drop time; pins within the
	// grace window are always rendered.
	DroppedAt map[string]time.Time

	// Now is the render pass timestamp.
	Now time.Time

	// Margin and DropGrace override the defaults when non-zero.
	Margin    float64
	DropGrace time.Duration
}

func (s State) margin() float64 {
	if s.Margin > 0 {
		return s.Margin
	}
	return DefaultMargin
}

func (s State) dropGrace() time.Duration {
	if s.DropGrace > 0 {
		return s.DropGrace
	}
	return DefaultDropGrace
}

// Visible reports whether a single annotation should be mounted.
func Visible(a comment.Annotation, f geom.Frame, s State) bool {
	p := a.Point()

	// Data-integrity check, not a UX feature: corrupt positions are out
	// regardless of any override below.
	if !p.Finite() || math.Abs(p.X) > MaxCoordinate || math.Abs(p.Y) > MaxCoordinate {
		return false
	}

	// Interaction overrides: the dragged pin, a freshly dropped pin, and
	// the open thread never cull, so transient offset recalculation after
	// a mutation cannot flicker them out.
	if a.ID != "" {
		if a.ID == s.DraggingID || a.ID == s.ActiveThreadID {
			return true
		}
		if at, ok := s.DroppedAt[a.ID]; ok && s.Now.Sub(at) <= s.dropGrace() {
			return true
		}
	}

	vp := geom.ToViewport(p, f)

	// A docked sidebar hides everything under its horizontal extent.
	if s.SidebarOpen && s.SidebarWidth > 0 && vp.X > f.Width-s.SidebarWidth {
		return false
	}

	m := s.margin()
	return vp.X >= -m && vp.X <= f.Width+m &&
		vp.Y >= -m && vp.Y <= f.Height+m
}

// Filter returns the subset of annotations that should be mounted,
// preserving input order.
func Filter(anns []comment.Annotation, f geom.Frame, s State) []comment.Annotation {
	var out []comment.Annotation
	for _, a := range anns {
		if Visible(a, f, s) {
			out = append(out, a)
		}
	}
	return out
}

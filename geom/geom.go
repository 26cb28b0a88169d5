// Package geom converts annotation coordinates between document space,
// viewport space, and container-relative space.
//
// Document space is the only space ever persisted: coordinates are relative
// to the scrollable document origin and independent of the current scroll
// position. Viewport and container-relative coordinates are always derived
// at use-time from a Frame snapshot and never stored.
package geom

import "math"

// Point is a coordinate pair in one of the three spaces.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p + q componentwise.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p - q componentwise.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

// Finite reports whether both coordinates are finite numbers. Annotations
// with non-finite positions are never persisted or rendered.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Frame is a snapshot of the host page geometry taken at use-time.
//
// A Frame must be recomputed (via resize/scroll/mutation observation)
// before any transform that could be stale: host-page layout changes
// independently of the overlay, so the container rectangle and scroll
// position are measured when the transform runs, not when the overlay
// mounted.
type Frame struct {
	// Scroll is the current scroll offset of the effective scrolling
	// element: the window when unscoped, the container when scoped.
	Scroll Point `json:"scroll"`

	// ContainerOffset is the scoped container's position in document
	// space. Zero when the overlay covers the full page.
	ContainerOffset Point `json:"container_offset"`

	// Scoped is true when the overlay is confined to a scrollable
	// sub-container rather than the whole page.
	Scoped bool `json:"scoped"`

	// Width and Height are the visible viewport dimensions.
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToViewport projects a document-space point into viewport space.
// ContainerOffset is zero for full-page frames, so the same subtraction
// covers both the scoped and unscoped cases.
func ToViewport(doc Point, f Frame) Point {
	return Point{
		X: doc.X - f.ContainerOffset.X - f.Scroll.X,
		Y: doc.Y - f.ContainerOffset.Y - f.Scroll.Y,
	}
}

// ToDocument is the inverse of ToViewport.
func ToDocument(vp Point, f Frame) Point {
	return Point{
		X: vp.X + f.ContainerOffset.X + f.Scroll.X,
		Y: vp.Y + f.ContainerOffset.Y + f.Scroll.Y,
	}
}

// ContainerRelative converts a document-space point to coordinates relative
// to the scoped container's origin. This is the placement space for pins
// rendered inside a scoped overlay element; it differs from viewport space
// in that it ignores scroll.
func ContainerRelative(doc Point, containerOffset Point) Point {
	return doc.Sub(containerOffset)
}

// Package gesture turns raw pointer events on a pin into either a click or
// a drag with throttled position updates.
//
// The session object is the only mutation surface: Start, Update, End and
// Cancel are fed by whatever event source the embedding shell has (mouse,
// touch, synthetic test events), so the state machine is testable without
// a live DOM. Only the primary pointer is tracked; multi-touch drag is out
// of scope.
package gesture

import (
	"time"

	"github.com/pinlay/pinlay/geom"
)

// Phase is the per-session state: Idle → PossibleDrag → Dragging → Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePossibleDrag
	PhaseDragging
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePossibleDrag:
		return "possible_drag"
	case PhaseDragging:
		return "dragging"
	}
	return "unknown"
}

// Config tunes the recogniser. Zero values pick the defaults.
type Config struct {
	// DragThreshold is the viewport-space distance (px) the pointer must
	// travel before a press becomes a drag. Default: 4.
	DragThreshold float64
	// ClickMaxDuration bounds how long a press may last and still count
	// as a click. Default: 150ms.
	ClickMaxDuration time.Duration
	// UpdateInterval throttles position updates while dragging.
	// Default: 16ms (~60Hz). The final position at pointer-up is always
	// emitted regardless of throttle state.
	UpdateInterval time.Duration
	// SessionTimeout force-cleans a session that never saw pointer-up
	// (lost events, focus loss). Default: 10s.
	SessionTimeout time.Duration
	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.DragThreshold <= 0 {
		c.DragThreshold = 4
	}
	if c.ClickMaxDuration <= 0 {
		c.ClickMaxDuration = 150 * time.Millisecond
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 16 * time.Millisecond
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Callbacks receive the session's outputs. Nil entries are skipped.
// Click and Commit are mutually exclusive for any one session.
type Callbacks struct {
	// DragStart fires once, when the drag threshold is first exceeded.
	DragStart func(pinID string)
	// Update delivers throttled document-space positions while dragging.
	Update func(pinID string, doc geom.Point)
	// Commit delivers the final document-space position at pointer-up.
	Commit func(pinID string, doc geom.Point)
	// Click fires when the press ended below the threshold and within
	// the click-time bound.
	Click func(pinID string)
	// Cancel fires when the session is abandoned (timeout, overlay
	// hidden). Already-emitted updates are not rolled back.
	Cancel func(pinID string)
}

// Session tracks one pin's gesture from pointer-down to pointer-up.
// It is single-threaded by design; all mutation happens on the UI event
// loop.
type Session struct {
	cfg Config
	cb  Callbacks

	phase Phase
	pinID string

	startPointerVP  geom.Point // threshold testing is viewport-space
	startPointerDoc geom.Point // delta base
	pinStartDoc     geom.Point

	startedAt    time.Time
	lastObserved time.Time
	lastEmit     time.Time
	lastDoc      geom.Point
	maxDist      float64
}

// NewSession creates an idle session.
func NewSession(cfg Config, cb Callbacks) *Session {
	cfg.defaults()
	return &Session{cfg: cfg, cb: cb}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// PinID returns the pin the active session belongs to, or "".
func (s *Session) PinID() string {
	if s.phase == PhaseIdle {
		return ""
	}
	return s.pinID
}

// Start begins a session for a pointer-down on pinID. pointerVP is the
// pointer position in viewport space; pinDoc is the pin's current
// document-space position. An active session is cancelled first.
func (s *Session) Start(pinID string, pointerVP geom.Point, pinDoc geom.Point, f geom.Frame) {
	if s.phase != PhaseIdle {
		s.Cancel()
	}

	now := s.cfg.Now()
	s.phase = PhasePossibleDrag
	s.pinID = pinID
	s.startPointerVP = pointerVP
	s.startPointerDoc = geom.ToDocument(pointerVP, f)
	s.pinStartDoc = pinDoc
	s.startedAt = now
	s.lastObserved = now
	s.lastEmit = time.Time{}
	s.lastDoc = pinDoc
	s.maxDist = 0
}

// Update processes a pointer move. Below the threshold movement is
// suppressed; above it the session enters Dragging (the DragStart side
// effect fires exactly once) and throttled position updates are emitted.
func (s *Session) Update(pointerVP geom.Point, f geom.Frame) {
	if s.phase == PhaseIdle {
		return
	}

	now := s.cfg.Now()
	s.lastObserved = now

	dist := pointerVP.Dist(s.startPointerVP)
	if dist > s.maxDist {
		s.maxDist = dist
	}

	if s.phase == PhasePossibleDrag {
		if dist <= s.cfg.DragThreshold {
			return
		}
		s.phase = PhaseDragging
		if s.cb.DragStart != nil {
			s.cb.DragStart(s.pinID)
		}
	}

	// Delta relative to the pointer's own movement, not an absolute
	// re-projection: the pin must not snap to the cursor on the first
	// move event.
	pointerDoc := geom.ToDocument(pointerVP, f)
	s.lastDoc = s.pinStartDoc.Add(pointerDoc.Sub(s.startPointerDoc))

	if now.Sub(s.lastEmit) < s.cfg.UpdateInterval {
		return
	}
	s.lastEmit = now
	if s.cb.Update != nil {
		s.cb.Update(s.pinID, s.lastDoc)
	}
}

// End processes pointer-up. A short press that stayed under the threshold
// is a click; anything else commits the final position (never dropped,
// regardless of throttle state). The two outcomes are mutually exclusive.
func (s *Session) End(pointerVP geom.Point, f geom.Frame) {
	if s.phase == PhaseIdle {
		return
	}

	now := s.cfg.Now()
	dist := pointerVP.Dist(s.startPointerVP)
	if dist > s.maxDist {
		s.maxDist = dist
	}

	pinID := s.pinID
	isClick := s.phase == PhasePossibleDrag &&
		s.maxDist <= s.cfg.DragThreshold &&
		now.Sub(s.startedAt) < s.cfg.ClickMaxDuration

	var final geom.Point
	if !isClick {
		pointerDoc := geom.ToDocument(pointerVP, f)
		final = s.pinStartDoc.Add(pointerDoc.Sub(s.startPointerDoc))
	}

	s.reset()

	if isClick {
		if s.cb.Click != nil {
			s.cb.Click(pinID)
		}
		return
	}
	if s.cb.Commit != nil {
		s.cb.Commit(pinID, final)
	}
}

// Cancel abandons the session without committing. In-flight gesture state
// is discarded; position updates already emitted stay applied.
func (s *Session) Cancel() {
	if s.phase == PhaseIdle {
		return
	}
	pinID := s.pinID
	s.reset()
	if s.cb.Cancel != nil {
		s.cb.Cancel(pinID)
	}
}

// ExpireIfStale cancels a session that has seen no events for longer than
// SessionTimeout. The embedding layer calls this from its periodic tick so
// a lost pointer-up can never leave a session hanging. Reports whether the
// session was cancelled.
func (s *Session) ExpireIfStale() bool {
	if s.phase == PhaseIdle {
		return false
	}
	if s.cfg.Now().Sub(s.lastObserved) <= s.cfg.SessionTimeout {
		return false
	}
	s.Cancel()
	return true
}

func (s *Session) reset() {
	s.phase = PhaseIdle
	s.pinID = ""
	s.maxDist = 0
}

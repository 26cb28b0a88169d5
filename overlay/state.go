package overlay

import "github.com/pinlay/pinlay/geom"

// Mode is the annotation layer's current mode. A single Machine instance
// exists per overlay, with lifecycle bound to the overlay's mount.
type Mode int

const (
	// ModeHidden: overlay inactive, no pins rendered.
	ModeHidden Mode = iota
	// ModeBrowsing: overlay active, nothing selected.
	ModeBrowsing
	// ModeCreating: a new-annotation popup is positioned, awaiting
	// submit or cancel.
	ModeCreating
	// ModeThreadOpen: an existing annotation's thread panel is shown.
	ModeThreadOpen
)

func (m Mode) String() string {
	switch m {
	case ModeHidden:
		return "hidden"
	case ModeBrowsing:
		return "browsing"
	case ModeCreating:
		return "creating"
	case ModeThreadOpen:
		return "thread_open"
	}
	return "unknown"
}

// Machine is the overlay mode controller. Navigation mode (modifier key
// held, clicks pass through to the host page) is tracked independently of
// the main mode and is always reversible.
//
// Machine is not safe for concurrent use; the engine serialises access.
type Machine struct {
	mode       Mode
	navigation bool

	draftPos     geom.Point
	draftAnchor  string
	activeThread string
}

// NewMachine creates a machine in ModeHidden.
func NewMachine() *Machine { return &Machine{} }

// Mode returns the current mode.
func (m *Machine) Mode() Mode { return m.mode }

// Navigation reports whether navigation mode is engaged.
func (m *Machine) Navigation() bool { return m.navigation }

// ActiveThread returns the annotation whose thread is open, or "".
func (m *Machine) ActiveThread() string {
	if m.mode != ModeThreadOpen {
		return ""
	}
	return m.activeThread
}

// Draft returns the pending new-annotation position and anchor selector.
// Only meaningful in ModeCreating.
func (m *Machine) Draft() (geom.Point, string) { return m.draftPos, m.draftAnchor }

// ToggleVisibility flips Hidden ⇄ Browsing. Toggling off from any active
// mode collapses everything to Hidden. Returns the new mode.
func (m *Machine) ToggleVisibility() Mode {
	if m.mode == ModeHidden {
		m.mode = ModeBrowsing
	} else {
		m.mode = ModeHidden
		m.clearTransient()
	}
	return m.mode
}

// BackgroundClick handles a click on empty page space while the overlay is
// active. In Browsing (and not navigation mode) it opens the creation
// popup at the click's document-space position. In ThreadOpen it closes
// the thread instead; the user is dismissing, not creating. Reports
// whether ModeCreating was entered.
func (m *Machine) BackgroundClick(doc geom.Point, anchorSelector string) bool {
	if m.navigation {
		return false
	}
	switch m.mode {
	case ModeBrowsing:
		m.mode = ModeCreating
		m.draftPos = doc
		m.draftAnchor = anchorSelector
		return true
	case ModeThreadOpen:
		m.mode = ModeBrowsing
		m.activeThread = ""
	}
	return false
}

// Submit leaves ModeCreating, handing the draft back to the caller for
// persistence. The caller then opens the new annotation's thread via
// OpenThread. Reports whether there was a draft to submit.
func (m *Machine) Submit() (geom.Point, string, bool) {
	if m.mode != ModeCreating {
		return geom.Point{}, "", false
	}
	pos, sel := m.draftPos, m.draftAnchor
	m.mode = ModeBrowsing
	m.draftPos = geom.Point{}
	m.draftAnchor = ""
	return pos, sel, true
}

// CancelCreate abandons the creation popup.
func (m *Machine) CancelCreate() {
	if m.mode != ModeCreating {
		return
	}
	m.mode = ModeBrowsing
	m.draftPos = geom.Point{}
	m.draftAnchor = ""
}

// TogglePin opens the pin's thread, or closes it when it is already the
// active one. Legal from Browsing and ThreadOpen; ignored while Hidden or
// Creating.
func (m *Machine) TogglePin(id string) {
	switch m.mode {
	case ModeBrowsing:
		m.mode = ModeThreadOpen
		m.activeThread = id
	case ModeThreadOpen:
		if m.activeThread == id {
			m.mode = ModeBrowsing
			m.activeThread = ""
		} else {
			m.activeThread = id
		}
	}
}

// OpenThread forces ModeThreadOpen for id (used after a submit).
func (m *Machine) OpenThread(id string) {
	if m.mode == ModeHidden {
		return
	}
	m.mode = ModeThreadOpen
	m.activeThread = id
}

// Escape collapses the innermost active state first: ThreadOpen/Creating →
// Browsing → Hidden. Levels are never skipped. Returns the new mode.
func (m *Machine) Escape() Mode {
	switch m.mode {
	case ModeCreating:
		m.CancelCreate()
	case ModeThreadOpen:
		m.mode = ModeBrowsing
		m.activeThread = ""
	case ModeBrowsing:
		m.mode = ModeHidden
	}
	return m.mode
}

// SetNavigation engages or releases navigation mode. Independent of the
// main mode; annotations stay visible while the host page receives clicks.
func (m *Machine) SetNavigation(on bool) { m.navigation = on }

// Reset returns the machine to ModeHidden, clearing all transient state.
// Called on overlay unmount.
func (m *Machine) Reset() {
	m.mode = ModeHidden
	m.navigation = false
	m.clearTransient()
}

func (m *Machine) clearTransient() {
	m.draftPos = geom.Point{}
	m.draftAnchor = ""
	m.activeThread = ""
}

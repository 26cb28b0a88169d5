package overlay

import (
	"testing"

	"github.com/pinlay/pinlay/geom"
)

func TestToggleVisibility(t *testing.T) {
	m := NewMachine()
	if m.Mode() != ModeHidden {
		t.Fatalf("initial mode = %v", m.Mode())
	}
	if got := m.ToggleVisibility(); got != ModeBrowsing {
		t.Fatalf("toggle on = %v", got)
	}
	if got := m.ToggleVisibility(); got != ModeHidden {
		t.Fatalf("toggle off = %v", got)
	}
}

func TestToggleOffCollapsesEverything(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.TogglePin("pin1")
	if m.Mode() != ModeThreadOpen {
		t.Fatalf("mode = %v", m.Mode())
	}

	m.ToggleVisibility()
	if m.Mode() != ModeHidden {
		t.Fatalf("mode = %v, want hidden", m.Mode())
	}
	// Transient state is gone: showing again starts clean.
	m.ToggleVisibility()
	if m.ActiveThread() != "" {
		t.Errorf("thread survived hide: %q", m.ActiveThread())
	}
}

func TestBackgroundClickCreates(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()

	pos := geom.Point{X: 150, Y: 250}
	if !m.BackgroundClick(pos, "#hero") {
		t.Fatal("click in browsing should open creation")
	}
	if m.Mode() != ModeCreating {
		t.Fatalf("mode = %v", m.Mode())
	}
	gotPos, gotSel := m.Draft()
	if gotPos != pos || gotSel != "#hero" {
		t.Errorf("draft = %v, %q", gotPos, gotSel)
	}
}

func TestBackgroundClickClosesThread(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.TogglePin("pin1")

	// Dismissal, not creation.
	if m.BackgroundClick(geom.Point{X: 1, Y: 1}, "") {
		t.Fatal("click with thread open must not create")
	}
	if m.Mode() != ModeBrowsing || m.ActiveThread() != "" {
		t.Errorf("mode = %v, thread = %q", m.Mode(), m.ActiveThread())
	}
}

func TestNavigationSuppressesCreation(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.SetNavigation(true)

	if m.BackgroundClick(geom.Point{X: 1, Y: 1}, "") {
		t.Fatal("navigation mode must pass clicks through")
	}
	if m.Mode() != ModeBrowsing {
		t.Errorf("mode = %v", m.Mode())
	}

	// Releasing the modifier restores creation.
	m.SetNavigation(false)
	if !m.BackgroundClick(geom.Point{X: 1, Y: 1}, "") {
		t.Error("creation should work after release")
	}
}

func TestNavigationIndependentOfMode(t *testing.T) {
	m := NewMachine()
	m.SetNavigation(true)
	m.ToggleVisibility()
	m.TogglePin("pin1")
	if !m.Navigation() {
		t.Error("navigation flag lost across mode changes")
	}
	m.Escape()
	if !m.Navigation() {
		t.Error("escape must not release navigation")
	}
}

func TestSubmitFlow(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.BackgroundClick(geom.Point{X: 5, Y: 6}, "p.intro")

	pos, sel, ok := m.Submit()
	if !ok || pos != (geom.Point{X: 5, Y: 6}) || sel != "p.intro" {
		t.Fatalf("Submit = %v, %q, %v", pos, sel, ok)
	}
	if m.Mode() != ModeBrowsing {
		t.Fatalf("mode = %v after submit", m.Mode())
	}

	// Second submit has nothing to hand back.
	if _, _, ok := m.Submit(); ok {
		t.Error("double submit")
	}
}

func TestTogglePin(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()

	m.TogglePin("a")
	if m.Mode() != ModeThreadOpen || m.ActiveThread() != "a" {
		t.Fatalf("mode = %v, thread = %q", m.Mode(), m.ActiveThread())
	}
	// Another pin switches the thread directly.
	m.TogglePin("b")
	if m.Mode() != ModeThreadOpen || m.ActiveThread() != "b" {
		t.Fatalf("switch: mode = %v, thread = %q", m.Mode(), m.ActiveThread())
	}
	// The same pin closes it.
	m.TogglePin("b")
	if m.Mode() != ModeBrowsing || m.ActiveThread() != "" {
		t.Fatalf("close: mode = %v, thread = %q", m.Mode(), m.ActiveThread())
	}
}

func TestTogglePinIgnoredWhileHiddenOrCreating(t *testing.T) {
	m := NewMachine()
	m.TogglePin("a")
	if m.Mode() != ModeHidden {
		t.Errorf("hidden: mode = %v", m.Mode())
	}

	m.ToggleVisibility()
	m.BackgroundClick(geom.Point{}, "")
	m.TogglePin("a")
	if m.Mode() != ModeCreating {
		t.Errorf("creating: mode = %v", m.Mode())
	}
}

func TestEscapeCollapsesInnermostFirst(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.TogglePin("a")

	if got := m.Escape(); got != ModeBrowsing {
		t.Fatalf("first escape = %v", got)
	}
	if got := m.Escape(); got != ModeHidden {
		t.Fatalf("second escape = %v", got)
	}
	if got := m.Escape(); got != ModeHidden {
		t.Fatalf("escape while hidden = %v", got)
	}
}

func TestEscapeCancelsDraft(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.BackgroundClick(geom.Point{X: 1, Y: 2}, "#x")

	if got := m.Escape(); got != ModeBrowsing {
		t.Fatalf("escape = %v", got)
	}
	if pos, sel := m.Draft(); pos != (geom.Point{}) || sel != "" {
		t.Errorf("draft survived escape: %v, %q", pos, sel)
	}
}

func TestReset(t *testing.T) {
	m := NewMachine()
	m.ToggleVisibility()
	m.SetNavigation(true)
	m.TogglePin("a")

	m.Reset()
	if m.Mode() != ModeHidden || m.Navigation() || m.ActiveThread() != "" {
		t.Errorf("after reset: %v, nav=%v, thread=%q",
			m.Mode(), m.Navigation(), m.ActiveThread())
	}
}

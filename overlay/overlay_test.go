package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/dom"
	"github.com/pinlay/pinlay/geom"
	"github.com/pinlay/pinlay/gesture"
	"github.com/pinlay/pinlay/picker"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// notifyingStore signals every completed save so tests can wait for the
// background persistence without sleeping.
type notifyingStore struct {
	*comment.Memory
	saved chan struct{}
}

func newNotifyingStore() *notifyingStore {
	return &notifyingStore{Memory: comment.NewMemory(), saved: make(chan struct{}, 16)}
}

func (s *notifyingStore) SaveAll(ctx context.Context, pageKey string, anns []comment.Annotation) error {
	err := s.Memory.SaveAll(ctx, pageKey, anns)
	s.saved <- struct{}{}
	return err
}

func (s *notifyingStore) waitSave(t *testing.T) {
	t.Helper()
	select {
	case <-s.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save")
	}
}

func newTestEngine(t *testing.T, seed []comment.Annotation) (*Engine, *notifyingStore, *testClock) {
	t.Helper()
	store := newNotifyingStore()
	clock := &testClock{now: time.Unix(9000, 0)}

	if seed != nil {
		if err := store.Memory.SaveAll(context.Background(), "/p", seed); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	seq := 0
	e, err := New(Options{
		Store:   store,
		PageKey: "/p",
		Now:     clock.Now,
		NewID: func() string {
			seq++
			return string(rune('0' + seq))
		},
		Gesture:      gesture.Config{Now: clock.Now},
		SidebarWidth: 320,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	e.SetFrame(geom.Frame{Width: 1024, Height: 768})
	t.Cleanup(e.Close)
	return e, store, clock
}

// recordingStore logs the reply count of every snapshot it persists so
// tests can assert that saves never go backwards.
type recordingStore struct {
	*comment.Memory
	mu     sync.Mutex
	counts []int
}

func (s *recordingStore) SaveAll(ctx context.Context, pageKey string, anns []comment.Annotation) error {
	err := s.Memory.SaveAll(ctx, pageKey, anns)
	n := 0
	for _, a := range anns {
		n += len(a.Replies)
	}
	s.mu.Lock()
	s.counts = append(s.counts, n)
	s.mu.Unlock()
	return err
}

func (s *recordingStore) replyCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.counts...)
}

func seedAnn(id string, x, y float64) comment.Annotation {
	return comment.Annotation{ID: id, PageKey: "/p", X: x, Y: y, CreatedAt: 1}
}

func anchorStack(t *testing.T) []picker.Candidate {
	t.Helper()
	d, err := dom.ParseString(`<html><body><section id="hero">x</section></body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	el := d.ByID("hero")
	return []picker.Candidate{picker.FromElement(el, 600, 400, nil)}
}

func TestCreateFlow(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)

	e.ToggleVisibility()
	if !e.HandleBackgroundClick(geom.Point{X: 150, Y: 250}, anchorStack(t)) {
		t.Fatal("background click should open creation")
	}
	if e.Mode() != ModeCreating {
		t.Fatalf("mode = %v", e.Mode())
	}
	pos, sel := e.Draft()
	if pos != (geom.Point{X: 150, Y: 250}) {
		t.Errorf("draft pos = %v", pos)
	}
	if sel != "#hero" {
		t.Errorf("draft selector = %q", sel)
	}

	ann, err := e.SubmitDraft("looks off", "ada")
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if ann.X != 150 || ann.Y != 250 || ann.Selector != "#hero" {
		t.Errorf("annotation = %+v", ann)
	}
	if e.Mode() != ModeThreadOpen || e.ActiveThread() != ann.ID {
		t.Errorf("mode = %v, thread = %q", e.Mode(), e.ActiveThread())
	}

	store.waitSave(t)
	persisted, _ := store.LoadAll(context.Background(), "/p")
	if len(persisted) != 1 || persisted[0].Body != "looks off" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestSubmitWithoutDraft(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.ToggleVisibility()
	if _, err := e.SubmitDraft("x", "y"); err != ErrNoDraft {
		t.Errorf("err = %v, want ErrNoDraft", err)
	}
}

func TestBackgroundClickIgnoredWhileHidden(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if e.HandleBackgroundClick(geom.Point{X: 1, Y: 1}, nil) {
		t.Error("creation opened while hidden")
	}
}

func TestDragMovesPin(t *testing.T) {
	e, store, clock := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 300, 300)})
	e.ToggleVisibility()

	if err := e.StartDrag("pin1", geom.Point{X: 300, Y: 300}); err != nil {
		t.Fatalf("StartDrag: %v", err)
	}
	if e.DraggingPin() != "pin1" {
		t.Errorf("DraggingPin = %q", e.DraggingPin())
	}

	clock.advance(20 * time.Millisecond)
	e.MoveDrag(geom.Point{X: 340, Y: 290})

	// The cache follows the throttled updates.
	anns := e.Annotations()
	if anns[0].X != 340 || anns[0].Y != 290 {
		t.Errorf("mid-drag position = (%v, %v)", anns[0].X, anns[0].Y)
	}

	clock.advance(20 * time.Millisecond)
	e.EndDrag(geom.Point{X: 340, Y: 290}, anchorStack(t))

	anns = e.Annotations()
	if anns[0].X != 340 || anns[0].Y != 290 {
		t.Errorf("final position = (%v, %v)", anns[0].X, anns[0].Y)
	}
	if anns[0].Selector != "#hero" {
		t.Errorf("selector = %q, want refreshed #hero", anns[0].Selector)
	}

	store.waitSave(t)
	persisted, _ := store.LoadAll(context.Background(), "/p")
	if persisted[0].X != 340 {
		t.Errorf("persisted X = %v", persisted[0].X)
	}
}

func TestDropWithoutAnchorClearsSelector(t *testing.T) {
	seed := seedAnn("pin1", 300, 300)
	seed.Selector = "#old"
	e, store, clock := newTestEngine(t, []comment.Annotation{seed})
	e.ToggleVisibility()

	e.StartDrag("pin1", geom.Point{X: 300, Y: 300})
	clock.advance(20 * time.Millisecond)
	e.MoveDrag(geom.Point{X: 400, Y: 400})
	clock.advance(20 * time.Millisecond)
	// A provided but unpickable stack: the pin now sits over nothing.
	e.EndDrag(geom.Point{X: 400, Y: 400}, []picker.Candidate{
		{Tag: "body", Width: 1024, Height: 4000},
	})
	store.waitSave(t)

	if sel := e.Annotations()[0].Selector; sel != "" {
		t.Errorf("selector = %q, want cleared", sel)
	}
}

func TestDropWithoutStackKeepsSelector(t *testing.T) {
	seed := seedAnn("pin1", 300, 300)
	seed.Selector = "#old"
	e, store, clock := newTestEngine(t, []comment.Annotation{seed})
	e.ToggleVisibility()

	e.StartDrag("pin1", geom.Point{X: 300, Y: 300})
	clock.advance(20 * time.Millisecond)
	e.MoveDrag(geom.Point{X: 400, Y: 400})
	clock.advance(20 * time.Millisecond)
	// No hit-test information at all: the stored anchor is left alone.
	e.EndDrag(geom.Point{X: 400, Y: 400}, nil)
	store.waitSave(t)

	if sel := e.Annotations()[0].Selector; sel != "#old" {
		t.Errorf("selector = %q, want #old", sel)
	}
}

func TestQuickPressTogglesThread(t *testing.T) {
	e, _, clock := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 300, 300)})
	e.ToggleVisibility()

	e.StartDrag("pin1", geom.Point{X: 300, Y: 300})
	clock.advance(50 * time.Millisecond)
	e.EndDrag(geom.Point{X: 301, Y: 300}, nil)

	if e.Mode() != ModeThreadOpen || e.ActiveThread() != "pin1" {
		t.Errorf("mode = %v, thread = %q", e.Mode(), e.ActiveThread())
	}
	// Position unchanged: click and commit are mutually exclusive.
	if a := e.Annotations()[0]; a.X != 300 || a.Y != 300 {
		t.Errorf("click moved the pin: (%v, %v)", a.X, a.Y)
	}
}

func TestDragIllegalWhileHiddenOrCreating(t *testing.T) {
	e, _, _ := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 300, 300)})

	if err := e.StartDrag("pin1", geom.Point{}); err == nil {
		t.Error("drag while hidden should fail")
	}

	e.ToggleVisibility()
	e.HandleBackgroundClick(geom.Point{X: 1, Y: 1}, nil)
	if err := e.StartDrag("pin1", geom.Point{}); err == nil {
		t.Error("drag while creating should fail")
	}
}

func TestStartDragUnknownPin(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.ToggleVisibility()
	if err := e.StartDrag("nope", geom.Point{}); err != ErrUnknownPin {
		t.Errorf("err = %v, want ErrUnknownPin", err)
	}
}

func TestVisiblePins(t *testing.T) {
	e, _, _ := newTestEngine(t, []comment.Annotation{
		seedAnn("in", 100, 100),
		seedAnn("out", 5000, 5000),
	})

	if pins := e.VisiblePins(); pins != nil {
		t.Fatalf("hidden overlay rendered pins: %v", pins)
	}

	e.ToggleVisibility()
	pins := e.VisiblePins()
	if len(pins) != 1 || pins[0].ID != "in" {
		t.Fatalf("pins = %+v", pins)
	}
}

func TestVisiblePinsSidebar(t *testing.T) {
	e, _, _ := newTestEngine(t, []comment.Annotation{seedAnn("right", 900, 100)})
	e.ToggleVisibility()

	if pins := e.VisiblePins(); len(pins) != 1 {
		t.Fatalf("baseline pins = %+v", pins)
	}
	e.SetSidebar(true)
	if pins := e.VisiblePins(); len(pins) != 0 {
		t.Errorf("sidebar-occluded pins = %+v", pins)
	}
}

func TestDroppedPinSurvivesGrace(t *testing.T) {
	e, store, clock := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 100, 100)})
	e.ToggleVisibility()

	// Drag the pin far off-screen and drop it there.
	e.StartDrag("pin1", geom.Point{X: 100, Y: 100})
	clock.advance(20 * time.Millisecond)
	e.MoveDrag(geom.Point{X: 5000, Y: 5000})
	clock.advance(20 * time.Millisecond)
	e.EndDrag(geom.Point{X: 5000, Y: 5000}, nil)
	store.waitSave(t)

	if pins := e.VisiblePins(); len(pins) != 1 {
		t.Fatalf("freshly dropped pin culled: %v", pins)
	}

	// After the grace window and a tick, the pin culls normally.
	clock.advance(2 * time.Second)
	e.Tick()
	if pins := e.VisiblePins(); len(pins) != 0 {
		t.Errorf("pin still rendered after grace: %v", pins)
	}
}

func TestReplyAndResolve(t *testing.T) {
	e, store, _ := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 100, 100)})
	e.ToggleVisibility()

	reply, err := e.AddReply("pin1", "agreed", "brin")
	if err != nil {
		t.Fatalf("AddReply: %v", err)
	}
	store.waitSave(t)
	if reply.AnnotationID != "pin1" || reply.Body != "agreed" {
		t.Errorf("reply = %+v", reply)
	}

	if err := e.ToggleResolved("pin1"); err != nil {
		t.Fatalf("ToggleResolved: %v", err)
	}
	store.waitSave(t)

	a := e.Annotations()[0]
	if !a.Resolved || len(a.Replies) != 1 {
		t.Errorf("annotation = %+v", a)
	}

	if _, err := e.AddReply("ghost", "x", "y"); err != ErrUnknownPin {
		t.Errorf("unknown pin err = %v", err)
	}
}

// Two back-to-back mutations race their background saves. Whichever
// goroutine runs first, the store must end up with both changes and the
// persisted reply count must never move backwards.
func TestRapidMutationSavesNeverRegress(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := &recordingStore{Memory: comment.NewMemory()}
		if err := store.Memory.SaveAll(ctx, "/p", []comment.Annotation{seedAnn("pin1", 100, 100)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		e, err := New(Options{Store: store, PageKey: "/p"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := e.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}

		if _, err := e.AddReply("pin1", "first", "ada"); err != nil {
			t.Fatalf("AddReply: %v", err)
		}
		if _, err := e.AddReply("pin1", "second", "brin"); err != nil {
			t.Fatalf("AddReply: %v", err)
		}

		waitPersistedReplies(t, store, 2)
		// Let any straggler save run before checking for regressions.
		time.Sleep(2 * time.Millisecond)

		counts := store.replyCounts()
		for j := 1; j < len(counts); j++ {
			if counts[j] < counts[j-1] {
				t.Fatalf("iteration %d: saves went backwards: %v", i, counts)
			}
		}
		persisted, _ := store.LoadAll(ctx, "/p")
		if len(persisted) != 1 || len(persisted[0].Replies) != 2 {
			t.Fatalf("iteration %d: persisted = %+v", i, persisted)
		}
	}
}

func waitPersistedReplies(t *testing.T, store comment.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		anns, err := store.LoadAll(context.Background(), "/p")
		if err == nil && len(anns) == 1 && len(anns[0].Replies) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("store never reached %d replies", want)
}

func TestDeleteClosesThread(t *testing.T) {
	e, store, _ := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 100, 100)})
	e.ToggleVisibility()
	e.HandlePinClick("pin1")

	if err := e.Delete("pin1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	store.waitSave(t)

	if e.Mode() != ModeBrowsing || e.ActiveThread() != "" {
		t.Errorf("mode = %v, thread = %q", e.Mode(), e.ActiveThread())
	}
	if len(e.Annotations()) != 0 {
		t.Errorf("annotations = %v", e.Annotations())
	}
	if err := e.Delete("pin1"); err != ErrUnknownPin {
		t.Errorf("second delete err = %v", err)
	}
}

func TestHideCancelsDrag(t *testing.T) {
	e, _, clock := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 100, 100)})
	e.ToggleVisibility()

	e.StartDrag("pin1", geom.Point{X: 100, Y: 100})
	clock.advance(20 * time.Millisecond)
	e.MoveDrag(geom.Point{X: 150, Y: 150})

	e.ToggleVisibility()
	if e.DraggingPin() != "" {
		t.Error("drag survived hide")
	}
	// Updates already applied stay; nothing rolls back.
	if a := e.Annotations()[0]; a.X != 150 {
		t.Errorf("position = %v", a.X)
	}
}

func TestDragSessionExpiry(t *testing.T) {
	e, _, clock := newTestEngine(t, []comment.Annotation{seedAnn("pin1", 100, 100)})
	e.ToggleVisibility()

	e.StartDrag("pin1", geom.Point{X: 100, Y: 100})
	clock.advance(11 * time.Second)
	e.Tick()

	if e.DraggingPin() != "" {
		t.Error("stale session survived tick")
	}
}

func TestRefresherDeliversFrames(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	ticks := 0
	want := geom.Frame{Scroll: geom.Point{Y: 500}, Width: 800, Height: 600}
	r := NewRefresher(StaticFrame(want), e.SetFrame,
		WithRefreshInterval(time.Millisecond),
		WithTick(func() { ticks++ }))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if got := e.Frame(); got != want {
		t.Errorf("frame = %+v, want %+v", got, want)
	}
	if ticks == 0 {
		t.Error("tick callback never fired")
	}
	stats := r.Stats()
	if stats.Polls == 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

// Package overlay orchestrates the annotation layer: mode control, frame
// refresh, click-to-create, drag wiring, and viewport culling.
//
// The Engine owns no annotations — the comment store does. It keeps a
// cached copy for the current render pass, applies mutations to it
// optimistically, and persists asynchronously so a slow or failing store
// never blocks gesture responsiveness. There is no module-level singleton:
// the widget shell constructs an Engine explicitly and closes it on
// unmount.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pinlay/pinlay/anchor"
	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/geom"
	"github.com/pinlay/pinlay/gesture"
	"github.com/pinlay/pinlay/idgen"
	"github.com/pinlay/pinlay/picker"
	"github.com/pinlay/pinlay/visibility"
)

// ErrNoDraft is returned by SubmitDraft outside ModeCreating.
var ErrNoDraft = errors.New("overlay: no draft to submit")

// ErrUnknownPin is returned when an operation targets an annotation the
// engine does not know.
var ErrUnknownPin = errors.New("overlay: unknown annotation")

// Events are the notifications emitted to the surrounding widget shell.
// They fire outside the engine lock; handlers may call back into the
// engine.
type Events struct {
	VisibilityChanged func(visible bool)
	CommentsChanged   func(pageKey string)
}

// Options configures an Engine.
type Options struct {
	Store   comment.Store // required
	PageKey string        // required

	Logger    *slog.Logger
	Picker    picker.Config
	Gesture   gesture.Config
	Events    Events
	NewID     idgen.Generator
	Now       func() time.Time

	// SidebarWidth is the docked sidebar's horizontal extent when open.
	SidebarWidth float64
	// Margin and DropGrace tune the visibility filter (zero = defaults).
	Margin    float64
	DropGrace time.Duration
	// SaveTimeout bounds each background persistence call. Default: 10s.
	SaveTimeout time.Duration
}

// Engine is the annotation layer controller. All mutation of the mode and
// the annotation cache goes through it; rendering layers are read-only
// consumers.
type Engine struct {
	mu sync.Mutex

	opts    Options
	machine *Machine
	session *gesture.Session

	anns        []comment.Annotation
	frame       geom.Frame
	sidebarOpen bool
	droppedAt   map[string]time.Time

	// dropStack holds the hit-test stack passed to EndDrag for the
	// duration of the commit callback.
	dropStack []picker.Candidate

	// pendingSave and pendingComments are set by gesture callbacks that
	// run under the lock; the calling method acts on them after unlock.
	pendingSave     bool
	pendingComments bool

	newAnnID   idgen.Generator
	newReplyID idgen.Generator
	now        func() time.Time
	logger     *slog.Logger

	// saveMu serialises background saves. Goroutine launch order does not
	// determine lock-acquisition order, so each snapshot carries the
	// sequence number it was taken under and lastSaved drops any snapshot
	// that lost the race to a newer write.
	saveMu    sync.Mutex
	saveSeq   uint64 // guarded by mu
	lastSaved uint64 // guarded by saveMu
}

// New creates an Engine. The overlay starts Hidden; call Load then
// ToggleVisibility to show it.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("overlay: store is required")
	}
	if opts.PageKey == "" {
		return nil, errors.New("overlay: page key is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = idgen.Default
	}
	if zero := (picker.Config{}); opts.Picker == zero {
		opts.Picker = picker.DefaultConfig()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}

	e := &Engine{
		opts:       opts,
		machine:    NewMachine(),
		droppedAt:  make(map[string]time.Time),
		newAnnID:   idgen.Prefixed("ann_", opts.NewID),
		newReplyID: idgen.Prefixed("rep_", opts.NewID),
		now:        opts.Now,
		logger:     opts.Logger,
	}

	gcfg := opts.Gesture
	if gcfg.Now == nil {
		gcfg.Now = opts.Now
	}
	e.session = gesture.NewSession(gcfg, gesture.Callbacks{
		DragStart: func(string) {},
		Update:    e.applyDragUpdate,
		Commit:    e.applyDragCommit,
		Click:     e.applyPinClick,
		Cancel:    func(string) {},
	})

	return e, nil
}

// Load fetches the page's annotations from the store into the render
// cache.
func (e *Engine) Load(ctx context.Context) error {
	anns, err := e.opts.Store.LoadAll(ctx, e.opts.PageKey)
	if err != nil {
		return fmt.Errorf("overlay: load annotations: %w", err)
	}

	e.mu.Lock()
	e.anns = anns
	e.mu.Unlock()

	e.logger.Info("overlay: annotations loaded",
		"page", e.opts.PageKey, "count", len(anns))
	return nil
}

// Replace swaps the render cache wholesale (push updates from a
// subscribing store).
func (e *Engine) Replace(anns []comment.Annotation) {
	e.mu.Lock()
	e.anns = anns
	e.mu.Unlock()
}

// SetFrame installs a fresh geometry snapshot. The shell calls this from
// its resize/scroll/mutation observers (or a Refresher does).
func (e *Engine) SetFrame(f geom.Frame) {
	e.mu.Lock()
	e.frame = f
	e.mu.Unlock()
}

// Frame returns the current geometry snapshot.
func (e *Engine) Frame() geom.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// SetSidebar records whether the docked sidebar is open.
func (e *Engine) SetSidebar(open bool) {
	e.mu.Lock()
	e.sidebarOpen = open
	e.mu.Unlock()
}

// Mode returns the current overlay mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Mode()
}

// ActiveThread returns the annotation whose thread is open, or "".
func (e *Engine) ActiveThread() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.ActiveThread()
}

// ToggleVisibility flips the overlay between Hidden and Browsing. Hiding
// cancels any in-flight drag.
func (e *Engine) ToggleVisibility() Mode {
	e.mu.Lock()
	mode := e.machine.ToggleVisibility()
	if mode == ModeHidden {
		e.session.Cancel()
	}
	e.mu.Unlock()

	if e.opts.Events.VisibilityChanged != nil {
		e.opts.Events.VisibilityChanged(mode != ModeHidden)
	}
	return mode
}

// SetNavigationMode engages or releases the click-through modifier.
func (e *Engine) SetNavigationMode(on bool) {
	e.mu.Lock()
	e.machine.SetNavigation(on)
	e.mu.Unlock()
}

// Escape collapses the innermost active state (ThreadOpen/Creating →
// Browsing → Hidden).
func (e *Engine) Escape() Mode {
	e.mu.Lock()
	before := e.machine.Mode()
	mode := e.machine.Escape()
	if mode == ModeHidden {
		e.session.Cancel()
	}
	e.mu.Unlock()

	if before != ModeHidden && mode == ModeHidden && e.opts.Events.VisibilityChanged != nil {
		e.opts.Events.VisibilityChanged(false)
	}
	return mode
}

// HandleBackgroundClick processes a click on empty page space. stack is
// the hit-test element stack under the click (top-most first); the picker
// chooses the anchor target from it. Reports whether the creation popup
// opened.
func (e *Engine) HandleBackgroundClick(vp geom.Point, stack []picker.Candidate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine.Mode() == ModeHidden {
		return false
	}

	doc := geom.ToDocument(vp, e.frame)
	if !doc.Finite() {
		return false
	}

	sel := ""
	if target := picker.Pick(stack, e.viewportLocked(), e.opts.Picker); target != nil {
		sel = anchor.Generate(target.Element)
	}
	return e.machine.BackgroundClick(doc, sel)
}

// Draft returns the pending creation position and anchor, valid while
// ModeCreating.
func (e *Engine) Draft() (geom.Point, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Draft()
}

// SubmitDraft persists the creation popup's annotation and opens its
// thread. The UI-visible state commits synchronously; the store write
// happens in the background.
func (e *Engine) SubmitDraft(body, author string) (*comment.Annotation, error) {
	e.mu.Lock()
	pos, sel, ok := e.machine.Submit()
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoDraft
	}

	ann := comment.Annotation{
		ID:        e.newAnnID(),
		PageKey:   e.opts.PageKey,
		X:         pos.X,
		Y:         pos.Y,
		Body:      body,
		Author:    author,
		CreatedAt: e.now().UnixMilli(),
		Selector:  sel,
	}
	if err := ann.Validate(); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	e.anns = append(e.anns, ann)
	e.machine.OpenThread(ann.ID)
	seq, snapshot := e.snapshotForSaveLocked()
	e.mu.Unlock()

	e.saveAsync(seq, snapshot)
	e.emitCommentsChanged()
	return &ann, nil
}

// CancelDraft abandons the creation popup.
func (e *Engine) CancelDraft() {
	e.mu.Lock()
	e.machine.CancelCreate()
	e.mu.Unlock()
}

// HandlePinClick toggles the thread panel for a pin.
func (e *Engine) HandlePinClick(id string) {
	e.mu.Lock()
	e.machine.TogglePin(id)
	e.mu.Unlock()
}

// StartDrag begins a gesture session for a pointer-down on a pin. Legal
// while Browsing or ThreadOpen; dragging does not change the mode.
func (e *Engine) StartDrag(id string, pointerVP geom.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.machine.Mode()
	if mode != ModeBrowsing && mode != ModeThreadOpen {
		return fmt.Errorf("overlay: drag not legal in mode %s", mode)
	}
	ann := e.findLocked(id)
	if ann == nil {
		return ErrUnknownPin
	}
	e.session.Start(id, pointerVP, ann.Point(), e.frame)
	return nil
}

// MoveDrag feeds a pointer move into the active session.
func (e *Engine) MoveDrag(pointerVP geom.Point) {
	e.mu.Lock()
	e.session.Update(pointerVP, e.frame)
	save, seq, snapshot := e.takePendingLocked()
	e.mu.Unlock()
	e.finishPending(save, seq, snapshot)
}

// EndDrag feeds pointer-up into the active session. stack, when non-nil,
// is the hit-test stack at the drop point, used to refresh the stored
// selector.
func (e *Engine) EndDrag(pointerVP geom.Point, stack []picker.Candidate) {
	e.mu.Lock()
	e.dropStack = stack
	e.session.End(pointerVP, e.frame)
	e.dropStack = nil
	save, seq, snapshot := e.takePendingLocked()
	e.mu.Unlock()
	e.finishPending(save, seq, snapshot)
}

// CancelDrag abandons the active session without committing.
func (e *Engine) CancelDrag() {
	e.mu.Lock()
	e.session.Cancel()
	e.mu.Unlock()
}

// DraggingPin returns the pin currently mid-gesture, or "".
func (e *Engine) DraggingPin() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.PinID()
}

// ToggleResolved flips an annotation's resolved flag.
func (e *Engine) ToggleResolved(id string) error {
	return e.mutate(id, func(a *comment.Annotation) {
		a.Resolved = !a.Resolved
	})
}

// AddReply appends an immutable reply to an annotation's thread.
func (e *Engine) AddReply(id, body, author string) (*comment.Reply, error) {
	reply := comment.Reply{
		ID:           e.newReplyID(),
		AnnotationID: id,
		Body:         body,
		Author:       author,
		CreatedAt:    e.now().UnixMilli(),
	}
	err := e.mutate(id, func(a *comment.Annotation) {
		a.Replies = append(a.Replies, reply)
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Delete removes an annotation. Deleting the open thread closes it.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	idx := -1
	for i := range e.anns {
		if e.anns[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return ErrUnknownPin
	}
	e.anns = append(e.anns[:idx], e.anns[idx+1:]...)
	if e.machine.ActiveThread() == id {
		e.machine.TogglePin(id)
	}
	delete(e.droppedAt, id)
	seq, snapshot := e.snapshotForSaveLocked()
	e.mu.Unlock()

	e.saveAsync(seq, snapshot)
	e.emitCommentsChanged()
	return nil
}

// Annotations returns a copy of the current render cache.
func (e *Engine) Annotations() []comment.Annotation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// VisiblePins returns the annotations that should be mounted for the
// current frame, sidebar state, and interaction overrides. Nil while
// Hidden.
func (e *Engine) VisiblePins() []comment.Annotation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine.Mode() == ModeHidden {
		return nil
	}
	state := visibility.State{
		SidebarOpen:    e.sidebarOpen,
		SidebarWidth:   e.opts.SidebarWidth,
		DraggingID:     e.session.PinID(),
		ActiveThreadID: e.machine.ActiveThread(),
		DroppedAt:      e.droppedAt,
		Now:            e.now(),
		Margin:         e.opts.Margin,
		DropGrace:      e.opts.DropGrace,
	}
	return visibility.Filter(e.anns, e.frame, state)
}

// Tick runs the periodic housekeeping: gesture expiry and drop-grace
// pruning. Wire it to a Refresher via WithTick.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.ExpireIfStale() {
		e.logger.Warn("overlay: drag session expired without pointer-up",
			"page", e.opts.PageKey)
	}

	grace := e.opts.DropGrace
	if grace <= 0 {
		grace = visibility.DefaultDropGrace
	}
	now := e.now()
	for id, at := range e.droppedAt {
		if now.Sub(at) > grace {
			delete(e.droppedAt, id)
		}
	}
}

// Close resets the engine to Hidden and cancels any in-flight gesture.
// Called on overlay unmount.
func (e *Engine) Close() {
	e.mu.Lock()
	was := e.machine.Mode()
	e.session.Cancel()
	e.machine.Reset()
	e.mu.Unlock()

	if was != ModeHidden && e.opts.Events.VisibilityChanged != nil {
		e.opts.Events.VisibilityChanged(false)
	}
}

// --- gesture callbacks (run with e.mu held) ---

func (e *Engine) applyDragUpdate(id string, doc geom.Point) {
	if !doc.Finite() {
		return
	}
	if a := e.findLocked(id); a != nil {
		a.X, a.Y = doc.X, doc.Y
	}
}

func (e *Engine) applyDragCommit(id string, doc geom.Point) {
	a := e.findLocked(id)
	if a == nil {
		return
	}
	if doc.Finite() {
		a.X, a.Y = doc.X, doc.Y
	}
	e.droppedAt[id] = e.now()

	// Drop-element lookup: a provided stack refreshes the anchor; an
	// empty pick clears it (the pin is now over nothing anchorable).
	if e.dropStack != nil {
		if target := picker.Pick(e.dropStack, e.viewportLocked(), e.opts.Picker); target != nil {
			a.Selector = anchor.Generate(target.Element)
		} else {
			a.Selector = ""
		}
	}

	e.pendingSave = true
	e.pendingComments = true
}

func (e *Engine) applyPinClick(id string) {
	e.machine.TogglePin(id)
}

// --- internals ---

func (e *Engine) findLocked(id string) *comment.Annotation {
	for i := range e.anns {
		if e.anns[i].ID == id {
			return &e.anns[i]
		}
	}
	return nil
}

func (e *Engine) viewportLocked() picker.Viewport {
	return picker.Viewport{Width: e.frame.Width, Height: e.frame.Height}
}

func (e *Engine) snapshotLocked() []comment.Annotation {
	out := make([]comment.Annotation, len(e.anns))
	copy(out, e.anns)
	for i := range out {
		if out[i].Replies != nil {
			r := make([]comment.Reply, len(out[i].Replies))
			copy(r, out[i].Replies)
			out[i].Replies = r
		}
	}
	return out
}

// snapshotForSaveLocked stamps the snapshot with the next save sequence
// number so saveAsync can tell stale snapshots from current ones.
func (e *Engine) snapshotForSaveLocked() (uint64, []comment.Annotation) {
	e.saveSeq++
	return e.saveSeq, e.snapshotLocked()
}

func (e *Engine) takePendingLocked() (bool, uint64, []comment.Annotation) {
	if !e.pendingSave && !e.pendingComments {
		return false, 0, nil
	}
	e.pendingSave = false
	e.pendingComments = false
	seq, snapshot := e.snapshotForSaveLocked()
	return true, seq, snapshot
}

func (e *Engine) finishPending(save bool, seq uint64, snapshot []comment.Annotation) {
	if !save {
		return
	}
	e.saveAsync(seq, snapshot)
	e.emitCommentsChanged()
}

// mutate applies fn to the annotation, persists, and notifies.
func (e *Engine) mutate(id string, fn func(*comment.Annotation)) error {
	e.mu.Lock()
	a := e.findLocked(id)
	if a == nil {
		e.mu.Unlock()
		return ErrUnknownPin
	}
	fn(a)
	seq, snapshot := e.snapshotForSaveLocked()
	e.mu.Unlock()

	e.saveAsync(seq, snapshot)
	e.emitCommentsChanged()
	return nil
}

// saveAsync persists a snapshot in the background. A snapshot older than
// the last one written is dropped rather than persisted, so the store
// never regresses behind the cache. Failures are logged and the optimistic
// state stays; surrounding layers may retry.
func (e *Engine) saveAsync(seq uint64, snapshot []comment.Annotation) {
	go func() {
		e.saveMu.Lock()
		defer e.saveMu.Unlock()

		if seq <= e.lastSaved {
			return
		}
		e.lastSaved = seq

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SaveTimeout)
		defer cancel()

		if err := e.opts.Store.SaveAll(ctx, e.opts.PageKey, snapshot); err != nil {
			e.logger.Error("overlay: save failed, keeping optimistic state",
				"page", e.opts.PageKey, "error", err)
		}
	}()
}

func (e *Engine) emitCommentsChanged() {
	if e.opts.Events.CommentsChanged != nil {
		e.opts.Events.CommentsChanged(e.opts.PageKey)
	}
}

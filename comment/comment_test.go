package comment

import (
	"context"
	"math"
	"testing"
)

func TestPageKey(t *testing.T) {
	tests := []struct {
		path, hash, want string
	}{
		{"/docs/setup", "", "/docs/setup"},
		{"/docs/setup", "#install", "/docs/setup#install"},
		{"/docs/setup", "install", "/docs/setup#install"},
		{"", "", "/"},
		{"", "#top", "/#top"},
	}
	for _, tt := range tests {
		if got := PageKey(tt.path, tt.hash); got != tt.want {
			t.Errorf("PageKey(%q, %q) = %q, want %q", tt.path, tt.hash, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	ok := Annotation{ID: "a", PageKey: "/p", X: 1, Y: 2}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid annotation rejected: %v", err)
	}

	nan := Annotation{ID: "a", PageKey: "/p", X: math.NaN(), Y: 2}
	if err := nan.Validate(); err != ErrInvalidPosition {
		t.Errorf("NaN position: err = %v", err)
	}
	inf := Annotation{ID: "a", PageKey: "/p", X: 1, Y: math.Inf(1)}
	if err := inf.Validate(); err != ErrInvalidPosition {
		t.Errorf("Inf position: err = %v", err)
	}
	noPage := Annotation{ID: "a", X: 1, Y: 2}
	if err := noPage.Validate(); err != ErrMissingPage {
		t.Errorf("missing page: err = %v", err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	anns, err := m.LoadAll(ctx, "/p")
	if err != nil || anns != nil {
		t.Fatalf("empty load = %v, %v", anns, err)
	}

	in := []Annotation{
		{ID: "a1", PageKey: "/p", X: 10, Y: 20, Body: "first"},
		{ID: "a2", PageKey: "/p", X: 30, Y: 40, Replies: []Reply{
			{ID: "r1", AnnotationID: "a2", Body: "reply"},
		}},
	}
	if err := m.SaveAll(ctx, "/p", in); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	got, err := m.LoadAll(ctx, "/p")
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || len(got[1].Replies) != 1 {
		t.Fatalf("got %+v", got)
	}

	// The store hands out copies, not aliases.
	got[0].Body = "mutated"
	again, _ := m.LoadAll(ctx, "/p")
	if again[0].Body != "first" {
		t.Error("LoadAll aliases internal state")
	}

	// Pages are independent.
	other, _ := m.LoadAll(ctx, "/other")
	if other != nil {
		t.Errorf("other page = %v", other)
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var seen [][]Annotation
	unsub := m.Subscribe("/p", func(anns []Annotation) {
		seen = append(seen, anns)
	})

	m.SaveAll(ctx, "/p", []Annotation{{ID: "a1", PageKey: "/p", X: 1, Y: 2}})
	m.SaveAll(ctx, "/other", []Annotation{{ID: "b1", PageKey: "/other", X: 1, Y: 2}})

	if len(seen) != 1 {
		t.Fatalf("notifications = %d, want 1 (only /p)", len(seen))
	}
	if len(seen[0]) != 1 || seen[0][0].ID != "a1" {
		t.Fatalf("payload = %+v", seen[0])
	}

	unsub()
	m.SaveAll(ctx, "/p", nil)
	if len(seen) != 1 {
		t.Errorf("unsubscribed callback still fired")
	}
}

package excerpt

import (
	"strings"
	"testing"

	"github.com/pinlay/pinlay/dom"
)

func element(t *testing.T, src, selector string) *dom.Element {
	t.Helper()
	d, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	el, err := d.Query(selector)
	if err != nil || el == nil {
		t.Fatalf("query %q: %v, %v", selector, el, err)
	}
	return el
}

func TestFromElement(t *testing.T) {
	el := element(t,
		`<html><body><section id="s"><h2>Setup</h2><p>Install the <strong>latest</strong> build.</p></section></body></html>`,
		"#s")

	got, err := NewBuilder(0).FromElement(el)
	if err != nil {
		t.Fatalf("FromElement: %v", err)
	}
	if !strings.Contains(got, "## Setup") {
		t.Errorf("heading not converted: %q", got)
	}
	if !strings.Contains(got, "**latest**") {
		t.Errorf("emphasis not converted: %q", got)
	}
}

func TestFromElementNil(t *testing.T) {
	got, err := NewBuilder(0).FromElement(nil)
	if err != nil || got != "" {
		t.Errorf("nil element: %q, %v", got, err)
	}
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("word ", 200)
	el := element(t, "<html><body><p id=\"p\">"+long+"</p></body></html>", "#p")

	b := NewBuilder(50)
	got, err := b.FromElement(el)
	if err != nil {
		t.Fatalf("FromElement: %v", err)
	}
	runes := []rune(got)
	if len(runes) > 51 { // cap plus the ellipsis rune
		t.Errorf("len = %d runes: %q", len(runes), got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("no ellipsis: %q", got)
	}
}

func TestTruncationRuneSafe(t *testing.T) {
	text := strings.Repeat("é", 100)
	el := element(t, `<html><body><p id="p">`+text+`</p></body></html>`, "#p")

	got, err := NewBuilder(10).FromElement(el)
	if err != nil {
		t.Fatalf("FromElement: %v", err)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatalf("broken rune in %q", got)
		}
	}
	if want := strings.Repeat("é", 10) + "…"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestShortContentUntouched(t *testing.T) {
	el := element(t, `<html><body><p id="p">short note</p></body></html>`, "#p")
	got, err := NewBuilder(0).FromElement(el)
	if err != nil {
		t.Fatalf("FromElement: %v", err)
	}
	if got != "short note" {
		t.Errorf("got %q", got)
	}
}

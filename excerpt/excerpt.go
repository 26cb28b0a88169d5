// Package excerpt renders a short Markdown preview of an anchored
// element's content, shown next to the annotation in sidebar listings.
package excerpt

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"github.com/pinlay/pinlay/dom"
)

// DefaultMaxLen is the preview length cap in runes.
const DefaultMaxLen = 280

// Builder converts anchored elements to Markdown previews. Safe to reuse
// across calls.
type Builder struct {
	conv   *converter.Converter
	maxLen int
}

// NewBuilder creates a Builder. maxLen <= 0 picks DefaultMaxLen.
func NewBuilder(maxLen int) *Builder {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Builder{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		maxLen: maxLen,
	}
}

// FromElement renders el's subtree as truncated Markdown. A nil element
// yields "" without error: absence of an anchor is not a failure.
func (b *Builder) FromElement(el *dom.Element) (string, error) {
	if el == nil {
		return "", nil
	}

	raw, err := el.OuterHTML()
	if err != nil {
		return "", fmt.Errorf("excerpt: serialise: %w", err)
	}

	md, err := b.conv.ConvertString(raw)
	if err != nil {
		return "", fmt.Errorf("excerpt: convert: %w", err)
	}

	return truncate(strings.TrimSpace(md), b.maxLen), nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimRight(string(runes[:maxLen]), " \n\t") + "…"
}

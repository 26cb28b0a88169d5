// Package dom provides an in-memory document model for anchor generation
// and resolution. It wraps golang.org/x/net/html nodes with parent links,
// id/class accessors, and same-tag sibling indexes, so the anchoring engine
// can run and be tested without a live browser.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Element is a single element node in a parsed document.
type Element struct {
	node     *html.Node
	parent   *Element
	children []*Element

	tag     string
	id      string
	classes []string
}

// Document is a parsed HTML document with an id index and a stable
// document-order element list.
type Document struct {
	root  *Element // the <html> element
	byID  map[string]*Element
	order []*Element // all elements in document order
}

// Parse reads an HTML document. Parsing never fails on malformed markup;
// x/net/html repairs the tree the way browsers do.
func Parse(r io.Reader) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}

	d := &Document{byID: make(map[string]*Element)}
	d.build(node, nil)
	return d, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) build(n *html.Node, parent *Element) {
	var el *Element
	if n.Type == html.ElementNode {
		el = &Element{
			node:   n,
			parent: parent,
			tag:    strings.ToLower(n.Data),
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "id":
				el.id = a.Val
			case "class":
				el.classes = strings.Fields(a.Val)
			}
		}
		if parent != nil {
			parent.children = append(parent.children, el)
		}
		if d.root == nil && el.tag == "html" {
			d.root = el
		}
		if el.id != "" {
			// First occurrence wins; ids are assumed page-unique.
			if _, dup := d.byID[el.id]; !dup {
				d.byID[el.id] = el
			}
		}
		d.order = append(d.order, el)
		parent = el
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.build(c, parent)
	}
}

// Root returns the document's <html> element, or nil for an empty tree.
func (d *Document) Root() *Element { return d.root }

// Body returns the document's <body> element, or nil.
func (d *Document) Body() *Element {
	for _, el := range d.order {
		if el.tag == "body" {
			return el
		}
	}
	return nil
}

// ByID returns the element with the given id, or nil.
func (d *Document) ByID(id string) *Element { return d.byID[id] }

// Elements returns all elements in document order.
func (d *Document) Elements() []*Element { return d.order }

// Tag returns the lower-cased tag name.
func (e *Element) Tag() string { return e.tag }

// ID returns the element's id attribute, or "".
func (e *Element) ID() string { return e.id }

// Classes returns the element's class list.
func (e *Element) Classes() []string { return e.classes }

// HasClass reports whether the element carries the given class.
func (e *Element) HasClass(c string) bool {
	for _, have := range e.classes {
		if have == c {
			return true
		}
	}
	return false
}

// Parent returns the parent element, or nil at the tree root.
func (e *Element) Parent() *Element { return e.parent }

// Children returns the element children in document order.
func (e *Element) Children() []*Element { return e.children }

// Attr returns the value of the named attribute, or "".
func (e *Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// SameTagIndex returns the 1-based position of e among siblings with the
// same tag, matching CSS :nth-of-type numbering.
func (e *Element) SameTagIndex() int {
	if e.parent == nil {
		return 1
	}
	idx := 0
	for _, sib := range e.parent.children {
		if sib.tag == e.tag {
			idx++
		}
		if sib == e {
			return idx
		}
	}
	return 1
}

// SameTagSiblings returns how many siblings (including e) share e's tag.
func (e *Element) SameTagSiblings() int {
	if e.parent == nil {
		return 1
	}
	n := 0
	for _, sib := range e.parent.children {
		if sib.tag == e.tag {
			n++
		}
	}
	return n
}

// Contains reports whether other is e or a descendant of e.
func (e *Element) Contains(other *Element) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == e {
			return true
		}
	}
	return false
}

// OuterHTML serialises the element's subtree.
func (e *Element) OuterHTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, e.node); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}

// Text returns the concatenated text content of the subtree, whitespace
// collapsed.
func (e *Element) Text() string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.node)
	return strings.Join(strings.Fields(sb.String()), " ")
}

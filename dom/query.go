package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one parsed step of a child-combinator selector path:
// tag, optional #id or .classes, optional :nth-of-type(n).
type segment struct {
	tag     string
	id      string
	classes []string
	nth     int // 0 = unconstrained
}

// Query returns the first element matching the selector in document order,
// or nil when nothing matches. The supported grammar is exactly what the
// anchor generator emits: "#id", "tag", "tag.class1.class2",
// "tag:nth-of-type(n)", and child paths joined with " > ".
// Malformed selectors return an error, never a panic.
func (d *Document) Query(selector string) (*Element, error) {
	segs, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}

	last := segs[len(segs)-1]
	for _, el := range d.order {
		if !last.matches(el) {
			continue
		}
		// Walk the remaining segments up the parent chain; " > " is the
		// child combinator, so each step must be the direct parent.
		cur := el
		ok := true
		for i := len(segs) - 2; i >= 0; i-- {
			cur = cur.parent
			if cur == nil || !segs[i].matches(cur) {
				ok = false
				break
			}
		}
		if ok {
			return el, nil
		}
	}
	return nil, nil
}

func parseSelector(selector string) ([]segment, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("dom: empty selector")
	}

	parts := strings.Split(selector, " > ")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		seg, err := parseSegment(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(s string) (segment, error) {
	var seg segment
	if s == "" {
		return seg, fmt.Errorf("dom: empty selector segment")
	}

	// :nth-of-type(n) suffix.
	if i := strings.Index(s, ":nth-of-type("); i >= 0 {
		rest := s[i+len(":nth-of-type("):]
		j := strings.Index(rest, ")")
		if j < 0 {
			return seg, fmt.Errorf("dom: unterminated nth-of-type in %q", s)
		}
		n, err := strconv.Atoi(rest[:j])
		if err != nil || n < 1 {
			return seg, fmt.Errorf("dom: bad nth-of-type index in %q", s)
		}
		seg.nth = n
		s = s[:i]
	} else if strings.Contains(s, ":") {
		return seg, fmt.Errorf("dom: unsupported pseudo-class in %q", s)
	}

	// #id part.
	if i := strings.Index(s, "#"); i >= 0 {
		idPart := s[i+1:]
		if j := strings.Index(idPart, "."); j >= 0 {
			return seg, fmt.Errorf("dom: class after id in %q", s)
		}
		if idPart == "" {
			return seg, fmt.Errorf("dom: empty id in %q", s)
		}
		seg.id = idPart
		s = s[:i]
	}

	// .class parts.
	if i := strings.Index(s, "."); i >= 0 {
		for _, c := range strings.Split(s[i+1:], ".") {
			if c == "" {
				return seg, fmt.Errorf("dom: empty class in selector")
			}
			seg.classes = append(seg.classes, c)
		}
		s = s[:i]
	}

	seg.tag = strings.ToLower(s)
	if seg.tag == "" && seg.id == "" && len(seg.classes) == 0 {
		return seg, fmt.Errorf("dom: empty selector segment")
	}
	return seg, nil
}

func (seg segment) matches(el *Element) bool {
	if seg.tag != "" && el.tag != seg.tag {
		return false
	}
	if seg.id != "" && el.id != seg.id {
		return false
	}
	for _, c := range seg.classes {
		if !el.HasClass(c) {
			return false
		}
	}
	if seg.nth != 0 && el.SameTagIndex() != seg.nth {
		return false
	}
	return true
}

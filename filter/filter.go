// Package filter implements the test selection expression shared by runners
// and drivers. A filter is an XML document rooted at <filter>; its top-level
// conditions are combined with AND. Supported elements are id, test, name,
// class, method and cat (leaf conditions) and and, or, not (combinators).
// A leaf carrying re="1" treats its text as a regular expression.
package filter

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const (
	rootElement = "filter"

	ElementID     = "id"
	ElementTest   = "test"
	ElementName   = "name"
	ElementClass  = "class"
	ElementMethod = "method"
	ElementCat    = "cat"
	ElementAnd    = "and"
	ElementOr     = "or"
	ElementNot    = "not"
)

// TestFilter is an immutable, parsed filter expression
type TestFilter struct {
	text string
	root *etree.Element
}

// Empty selects every test
var Empty = newFilter(etree.NewElement(rootElement))

// Parse parses the canonical XML text of a filter. Blank text yields Empty.
func Parse(text string) (TestFilter, error) {
	if strings.TrimSpace(text) == "" {
		return Empty, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return TestFilter{}, fmt.Errorf("invalid filter: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != rootElement {
		return TestFilter{}, fmt.Errorf("invalid filter: root element must be <%s>", rootElement)
	}
	if err := validate(root.ChildElements()); err != nil {
		return TestFilter{}, err
	}
	return newFilter(root), nil
}

func newFilter(root *etree.Element) TestFilter {
	doc := etree.NewDocument()
	doc.SetRoot(root.Copy())
	text, err := doc.WriteToString()
	if err != nil {
		text = "<filter/>"
	}
	return TestFilter{text: text, root: doc.Root()}
}

func validate(elements []*etree.Element) error {
	for _, e := range elements {
		switch e.Tag {
		case ElementID, ElementTest, ElementName, ElementClass, ElementMethod, ElementCat:
			if len(e.ChildElements()) > 0 {
				return fmt.Errorf("invalid filter: <%s> cannot contain elements", e.Tag)
			}
		case ElementAnd, ElementOr:
			if err := validate(e.ChildElements()); err != nil {
				return err
			}
		case ElementNot:
			if len(e.ChildElements()) != 1 {
				return fmt.Errorf("invalid filter: <not> requires exactly one condition")
			}
			if err := validate(e.ChildElements()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid filter: unknown element <%s>", e.Tag)
		}
	}
	return nil
}

// Text returns the canonical XML form
func (f TestFilter) Text() string {
	if f.root == nil {
		return Empty.text
	}
	return f.text
}

func (f TestFilter) String() string {
	return f.Text()
}

// IsEmpty reports whether f selects everything
func (f TestFilter) IsEmpty() bool {
	return f.root == nil || len(f.root.ChildElements()) == 0
}

// Element returns a copy of the filter root, suitable for embedding in a
// result document.
func (f TestFilter) Element() *etree.Element {
	if f.root == nil {
		return etree.NewElement(rootElement)
	}
	return f.root.Copy()
}

func (f TestFilter) conditions() []*etree.Element {
	if f.root == nil {
		return nil
	}
	return f.root.ChildElements()
}

func isRegex(e *etree.Element) bool {
	switch strings.ToLower(e.SelectAttrValue("re", "")) {
	case "1", "true":
		return true
	}
	return false
}

// values splits a comma separated condition into trimmed values
func values(e *etree.Element) []string {
	var out []string
	for _, v := range strings.Split(e.Text(), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

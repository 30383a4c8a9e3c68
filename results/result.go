// Package results holds the result fragments produced by runners and the
// algorithm that merges sibling fragments into one parent node.
package results

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// EngineResult wraps an ordered list of result-tree roots, one per
// contributing runner. It has no identity of its own; it is a merge unit.
type EngineResult struct {
	fragments []*etree.Element
}

// NewEngineResult parses each XML text into a fragment
func NewEngineResult(xml ...string) (*EngineResult, error) {
	r := &EngineResult{}
	for _, text := range xml {
		if err := r.AddXml(text); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FromElements wraps existing fragments without copying them
func FromElements(elements ...*etree.Element) *EngineResult {
	return &EngineResult{fragments: elements}
}

// Add appends a fragment
func (r *EngineResult) Add(e *etree.Element) {
	r.fragments = append(r.fragments, e)
}

// AddXml parses text and appends it as a fragment
func (r *EngineResult) AddXml(text string) error {
	e, err := ParseElement(text)
	if err != nil {
		return err
	}
	r.Add(e)
	return nil
}

// Fragments returns the fragments in order
func (r *EngineResult) Fragments() []*etree.Element {
	return r.fragments
}

// IsSingle reports whether r holds exactly one fragment
func (r *EngineResult) IsSingle() bool {
	return len(r.fragments) == 1
}

// Xml returns the only fragment, or nil when r is not single
func (r *EngineResult) Xml() *etree.Element {
	if !r.IsSingle() {
		return nil
	}
	return r.fragments[0]
}

// Aggregate merges the fragments under a new parent node. See Aggregate.
func (r *EngineResult) Aggregate(elementName, testType, id, name, fullName string) *EngineResult {
	return FromElements(Aggregate(elementName, testType, id, name, fullName, r.fragments))
}

func (r *EngineResult) String() string {
	var sb strings.Builder
	for _, e := range r.fragments {
		sb.WriteString(ElementString(e))
	}
	return sb.String()
}

// Merge concatenates the fragments of every result in order
func Merge(results ...*EngineResult) *EngineResult {
	merged := &EngineResult{}
	for _, r := range results {
		if r == nil {
			continue
		}
		merged.fragments = append(merged.fragments, r.fragments...)
	}
	return merged
}

// ParseElement parses a single XML element
func ParseElement(text string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil, fmt.Errorf("invalid result xml: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("invalid result xml: no root element")
	}
	return root, nil
}

// ElementString serializes e without detaching it from its parent
func ElementString(e *etree.Element) string {
	if e == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(e.Copy())
	text, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return text
}

package filter

import (
	"regexp"
	"slices"

	"github.com/beevik/etree"
)

// TestInfo is what a driver knows about a test when applying a filter
type TestInfo struct {
	ID         string
	Name       string
	FullName   string
	ClassName  string
	MethodName string
	Categories []string
}

// Match reports whether the test is selected by f
func (f TestFilter) Match(t TestInfo) bool {
	for _, c := range f.conditions() {
		if !match(c, t) {
			return false
		}
	}
	return true
}

func match(e *etree.Element, t TestInfo) bool {
	switch e.Tag {
	case ElementAnd:
		for _, c := range e.ChildElements() {
			if !match(c, t) {
				return false
			}
		}
		return true
	case ElementOr:
		for _, c := range e.ChildElements() {
			if match(c, t) {
				return true
			}
		}
		return false
	case ElementNot:
		children := e.ChildElements()
		return len(children) == 1 && !match(children[0], t)
	case ElementID:
		return matchValue(e, t.ID)
	case ElementTest:
		return matchValue(e, t.FullName) || matchValue(e, t.Name)
	case ElementName:
		return matchValue(e, t.Name)
	case ElementClass:
		return matchValue(e, t.ClassName)
	case ElementMethod:
		return matchValue(e, t.MethodName)
	case ElementCat:
		return slices.ContainsFunc(t.Categories, func(c string) bool {
			return matchValue(e, c)
		})
	}
	return false
}

func matchValue(e *etree.Element, actual string) bool {
	if isRegex(e) {
		re, err := regexp.Compile(e.Text())
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	switch e.Tag {
	case ElementID, ElementCat:
		return slices.Contains(values(e), actual)
	}
	return e.Text() == actual
}

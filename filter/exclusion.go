package filter

import (
	"strings"

	"github.com/beevik/etree"
)

// ExcludesPackage reports whether f provably selects no test of the package
// with the given id. Test ids are namespaced "{packageID}-{n}", so an id
// condition whose values all lack that prefix excludes the package. An or
// excludes only when every branch does. Every other shape, including the
// empty filter and multiple top-level conditions, never excludes.
func ExcludesPackage(f TestFilter, packageID string) bool {
	if f.IsEmpty() {
		return false
	}
	conditions := f.conditions()
	if len(conditions) != 1 {
		return false
	}
	return excludes(conditions[0], packageID+"-")
}

func excludes(e *etree.Element, prefix string) bool {
	switch e.Tag {
	case ElementID:
		if isRegex(e) {
			return false
		}
		for _, id := range values(e) {
			if strings.HasPrefix(id, prefix) {
				return false
			}
		}
		return true
	case ElementOr:
		branches := e.ChildElements()
		if len(branches) == 0 {
			return false
		}
		for _, branch := range branches {
			if !excludes(branch, prefix) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

package filter

import (
	"github.com/beevik/etree"
)

// Builder assembles a filter from command line style selections. Tests and
// categories are each OR-ed together; the groups and the where expression
// are AND-ed.
type Builder struct {
	tests      []string
	categories []string
	where      string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddTest selects a test by full name
func (b *Builder) AddTest(name string) *Builder {
	b.tests = append(b.tests, name)
	return b
}

// AddCategory selects tests carrying the category
func (b *Builder) AddCategory(category string) *Builder {
	b.categories = append(b.categories, category)
	return b
}

// SelectWhere adds a selection expression, see ParseWhere
func (b *Builder) SelectWhere(expression string) *Builder {
	b.where = expression
	return b
}

// Build returns the filter, or Empty when nothing was selected
func (b *Builder) Build() (TestFilter, error) {
	root := etree.NewElement(rootElement)
	if cond := anyOf(ElementTest, b.tests); cond != nil {
		root.AddChild(cond)
	}
	if cond := anyOf(ElementCat, b.categories); cond != nil {
		root.AddChild(cond)
	}
	if b.where != "" {
		cond, err := Where(b.where)
		if err != nil {
			return TestFilter{}, err
		}
		root.AddChild(cond)
	}
	if len(root.ChildElements()) == 0 {
		return Empty, nil
	}
	return newFilter(root), nil
}

func anyOf(tag string, values []string) *etree.Element {
	if len(values) == 0 {
		return nil
	}
	conds := make([]*etree.Element, 0, len(values))
	for _, v := range values {
		cond := etree.NewElement(tag)
		cond.SetText(v)
		conds = append(conds, cond)
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return combine(ElementOr, conds...)
}

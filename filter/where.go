package filter

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// properties a selection expression may test
var whereProperties = map[string]string{
	"id":       ElementID,
	"test":     ElementTest,
	"name":     ElementName,
	"class":    ElementClass,
	"method":   ElementMethod,
	"cat":      ElementCat,
	"category": ElementCat,
}

// ParseWhere converts a selection expression into a filter. Examples:
//
//	cat == Slow && !(test matches "Flaky")
//	id in ["3-1001", "3-1002"] || name == "TestMain"
func ParseWhere(expression string) (TestFilter, error) {
	cond, err := Where(expression)
	if err != nil {
		return TestFilter{}, err
	}
	root := etree.NewElement(rootElement)
	root.AddChild(cond)
	return newFilter(root), nil
}

// Where converts a selection expression into a single filter condition
func Where(expression string) (*etree.Element, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid where expression %q: %w", expression, err)
	}
	return convert(tree.Node)
}

func convert(node ast.Node) (*etree.Element, error) {
	switch n := node.(type) {
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not":
			inner, err := convert(n.Node)
			if err != nil {
				return nil, err
			}
			return combine(ElementNot, inner), nil
		}
		return nil, fmt.Errorf("unsupported operator %q", n.Operator)
	case *ast.BinaryNode:
		return convertBinary(n)
	}
	return nil, fmt.Errorf("unsupported expression %q", node.String())
}

func convertBinary(n *ast.BinaryNode) (*etree.Element, error) {
	switch n.Operator {
	case "&&", "and", "||", "or":
		left, err := convert(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := convert(n.Right)
		if err != nil {
			return nil, err
		}
		tag := ElementAnd
		if n.Operator == "||" || n.Operator == "or" {
			tag = ElementOr
		}
		return combine(tag, left, right), nil
	}

	tag, err := property(n.Left)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "==", "!=", "matches":
		value, err := literal(n.Right)
		if err != nil {
			return nil, err
		}
		cond := etree.NewElement(tag)
		cond.SetText(value)
		if n.Operator == "matches" {
			cond.CreateAttr("re", "1")
		}
		if n.Operator == "!=" {
			return combine(ElementNot, cond), nil
		}
		return cond, nil
	case "in":
		array, ok := n.Right.(*ast.ArrayNode)
		if !ok {
			return nil, fmt.Errorf("right side of 'in' must be a list")
		}
		var conds []*etree.Element
		for _, item := range array.Nodes {
			value, err := literal(item)
			if err != nil {
				return nil, err
			}
			cond := etree.NewElement(tag)
			cond.SetText(value)
			conds = append(conds, cond)
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return combine(ElementOr, conds...), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Operator)
}

func property(node ast.Node) (string, error) {
	ident, ok := node.(*ast.IdentifierNode)
	if !ok {
		return "", fmt.Errorf("expected a test property, got %q", node.String())
	}
	tag, ok := whereProperties[ident.Value]
	if !ok {
		return "", fmt.Errorf("unknown test property %q", ident.Value)
	}
	return tag, nil
}

// literal accepts quoted strings, bare words and numbers
func literal(node ast.Node) (string, error) {
	switch v := node.(type) {
	case *ast.StringNode:
		return v.Value, nil
	case *ast.IdentifierNode:
		return v.Value, nil
	case *ast.IntegerNode:
		return strconv.Itoa(v.Value), nil
	}
	return "", fmt.Errorf("expected a value, got %q", node.String())
}

func combine(tag string, children ...*etree.Element) *etree.Element {
	e := etree.NewElement(tag)
	for _, c := range children {
		e.AddChild(c)
	}
	return e
}

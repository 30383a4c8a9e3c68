package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFilter(t *testing.T, text string) TestFilter {
	t.Helper()
	f, err := Parse(text)
	require.NoError(t, err)
	return f
}

func TestParse(t *testing.T) {
	f, err := Parse("")
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
	assert.Equal(t, "<filter/>", f.Text())

	f = mustFilter(t, "<filter><cat>Slow</cat></filter>")
	assert.False(t, f.IsEmpty())
	assert.Equal(t, "<filter><cat>Slow</cat></filter>", f.Text())

	_, err = Parse("<select/>")
	assert.Error(t, err)
	_, err = Parse("<filter><bogus/></filter>")
	assert.Error(t, err)
	_, err = Parse("<filter><not><id>1-1</id><id>1-2</id></not></filter>")
	assert.Error(t, err)
	_, err = Parse("not xml at all")
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.True(t, TestFilter{}.IsEmpty())
	assert.Equal(t, Empty.Text(), TestFilter{}.Text())
	assert.Equal(t, "filter", Empty.Element().Tag)
}

func TestExcludesPackage(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		excludes bool
	}{
		{name: "empty", filter: "<filter/>", excludes: false},
		{name: "own id", filter: "<filter><id>7-12</id></filter>", excludes: false},
		{name: "other id", filter: "<filter><id>9-3</id></filter>", excludes: true},
		{name: "id prefix collision", filter: "<filter><id>77-3</id></filter>", excludes: true},
		{name: "id list containing own", filter: "<filter><id>9-3,7-1</id></filter>", excludes: false},
		{name: "or with one own branch", filter: "<filter><or><id>7-12</id><id>9-3</id></or></filter>", excludes: false},
		{name: "or all foreign", filter: "<filter><or><id>8-12</id><id>9-3</id></or></filter>", excludes: true},
		{name: "or with category branch", filter: "<filter><or><id>9-3</id><cat>Slow</cat></or></filter>", excludes: false},
		{name: "and never excludes", filter: "<filter><and><id>9-3</id><id>9-4</id></and></filter>", excludes: false},
		{name: "not never excludes", filter: "<filter><not><id>7-1</id></not></filter>", excludes: false},
		{name: "category never excludes", filter: "<filter><cat>Slow</cat></filter>", excludes: false},
		{name: "regex never excludes", filter: "<filter><id re=\"1\">9-.*</id></filter>", excludes: false},
		{name: "multiple top-level conditions", filter: "<filter><id>9-3</id><id>9-4</id></filter>", excludes: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.excludes, ExcludesPackage(mustFilter(t, tt.filter), "7"))
		})
	}
}

func TestMatch(t *testing.T) {
	test := TestInfo{
		ID:         "3-1001",
		Name:       "TestDeposit",
		FullName:   "example.com/bank.TestDeposit",
		ClassName:  "example.com/bank",
		MethodName: "TestDeposit",
		Categories: []string{"Slow", "Integration"},
	}

	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{name: "empty", filter: "<filter/>", want: true},
		{name: "id", filter: "<filter><id>3-1001</id></filter>", want: true},
		{name: "id list", filter: "<filter><id>3-1000, 3-1001</id></filter>", want: true},
		{name: "other id", filter: "<filter><id>3-1002</id></filter>", want: false},
		{name: "test by full name", filter: "<filter><test>example.com/bank.TestDeposit</test></filter>", want: true},
		{name: "test by short name", filter: "<filter><test>TestDeposit</test></filter>", want: true},
		{name: "name", filter: "<filter><name>TestWithdraw</name></filter>", want: false},
		{name: "class", filter: "<filter><class>example.com/bank</class></filter>", want: true},
		{name: "method", filter: "<filter><method>TestDeposit</method></filter>", want: true},
		{name: "category", filter: "<filter><cat>Slow</cat></filter>", want: true},
		{name: "missing category", filter: "<filter><cat>Fast</cat></filter>", want: false},
		{name: "regex", filter: "<filter><name re=\"1\">^TestDep</name></filter>", want: true},
		{name: "bad regex", filter: "<filter><name re=\"1\">(</name></filter>", want: false},
		{name: "and", filter: "<filter><and><cat>Slow</cat><name>TestDeposit</name></and></filter>", want: true},
		{name: "or", filter: "<filter><or><cat>Fast</cat><name>TestDeposit</name></or></filter>", want: true},
		{name: "not", filter: "<filter><not><cat>Slow</cat></not></filter>", want: false},
		{name: "top-level conditions are and-ed", filter: "<filter><cat>Slow</cat><cat>Fast</cat></filter>", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustFilter(t, tt.filter).Match(test))
		})
	}
}

func TestParseWhere(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       string
	}{
		{
			name:       "category",
			expression: "cat == Slow",
			want:       "<filter><cat>Slow</cat></filter>",
		},
		{
			name:       "not equal",
			expression: `name != "TestA"`,
			want:       "<filter><not><name>TestA</name></not></filter>",
		},
		{
			name:       "and with negated regex",
			expression: `cat == Slow && !(test matches "Flaky")`,
			want:       `<filter><and><cat>Slow</cat><not><test re="1">Flaky</test></not></and></filter>`,
		},
		{
			name:       "or of ids",
			expression: `id == "3-1001" || id == "4-1002"`,
			want:       "<filter><or><id>3-1001</id><id>4-1002</id></or></filter>",
		},
		{
			name:       "in list",
			expression: `id in ["3-1001", "3-1002"]`,
			want:       "<filter><or><id>3-1001</id><id>3-1002</id></or></filter>",
		},
		{
			name:       "word operators",
			expression: `category == "Slow" and not (method == "TestX")`,
			want:       "<filter><and><cat>Slow</cat><not><method>TestX</method></not></and></filter>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseWhere(tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Text())
		})
	}
}

func TestParseWhere_Errors(t *testing.T) {
	for _, expression := range []string{
		"owner == bob",
		"cat > 3",
		"cat == Slow &&",
		"cat",
		`id in "3-1"`,
	} {
		_, err := ParseWhere(expression)
		assert.Error(t, err, expression)
	}
}

func TestBuilder(t *testing.T) {
	f, err := NewBuilder().Build()
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())

	f, err = NewBuilder().AddTest("pkg.TestA").Build()
	require.NoError(t, err)
	assert.Equal(t, "<filter><test>pkg.TestA</test></filter>", f.Text())

	f, err = NewBuilder().
		AddTest("pkg.TestA").
		AddTest("pkg.TestB").
		AddCategory("Slow").
		SelectWhere("name != TestC").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		"<filter><or><test>pkg.TestA</test><test>pkg.TestB</test></or><cat>Slow</cat><not><name>TestC</name></not></filter>",
		f.Text())

	_, err = NewBuilder().SelectWhere("cat ==").Build()
	assert.Error(t, err)
}

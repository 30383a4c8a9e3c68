package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// PrintResultsTable renders one row per package, test and subtest
func PrintResultsTable(w io.Writer, title string, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s (%s)", title, formatDuration(s.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, pkg := range s.Packages {
		name := pkg.Path
		if name == "" {
			name = pkg.ID
		}
		t.AppendRow(table.Row{
			"Package",
			name,
			formatDuration(pkg.Duration),
			pkg.Total,
			pkg.Passed,
			pkg.Failed,
			pkg.Skipped,
			resultString(pkg.Result, pkg.Label),
			pkg.Message,
		})

		for i, test := range pkg.Tests {
			prefix := "├──"
			if i == len(pkg.Tests)-1 {
				prefix = "└──"
			}
			t.AppendRow(testRow(prefix+" "+test.Name, test))

			indent := "│   "
			if i == len(pkg.Tests)-1 {
				indent = "    "
			}
			for j, sub := range test.Subtests {
				branch := "├──"
				if j == len(test.Subtests)-1 {
					branch = "└──"
				}
				row := testRow(indent+branch+" "+sub.Name, sub)
				row[0] = ""
				t.AppendRow(row)
			}
		}
		t.AppendSeparator()
	}

	switch s.Result {
	case string(types.ResultPassed):
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case string(types.ResultFailed):
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(s.Duration),
		s.Total,
		s.Passed,
		s.Failed,
		s.Skipped,
		resultString(s.Result, s.Label),
		"",
	})

	t.Render()
}

func testRow(name string, test TestSummary) table.Row {
	return table.Row{
		"Test",
		name,
		formatDuration(test.Duration),
		"1",
		boolToInt(test.Result == string(types.ResultPassed)),
		boolToInt(test.Result == string(types.ResultFailed)),
		boolToInt(test.Result == string(types.ResultSkipped)),
		resultString(test.Result, test.Label),
		test.Message,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// resultString returns a short marker for a result and label
func resultString(result, label string) string {
	var s string
	switch result {
	case string(types.ResultPassed):
		s = "✓ pass"
	case string(types.ResultSkipped):
		s = "- skip"
	case string(types.ResultFailed):
		s = "✗ fail"
	case string(types.ResultWarning):
		s = "! warn"
	case "":
		return "?"
	default:
		s = "? " + result
	}
	if label != "" {
		s += " (" + label + ")"
	}
	return s
}

func formatDuration(seconds float64) string {
	return fmt.Sprintf("%.1fs", seconds)
}

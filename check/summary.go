package check

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
)

// Summary carries the data for the human-readable tables printed at the
// end of a run: one regression block and one replica lag block per test.
type Summary struct {
	Regressions []Comparison
	Lag         []LagSummary
}

// HasRegressions reports whether any comparison failed.
func (s *Summary) HasRegressions() bool { return len(s.Regressions) > 0 }

// RenderRegressions writes the regression table, one block per test in the
// order failures were recorded, blank-line separated.
func (s *Summary) RenderRegressions(w io.Writer) {
	if len(s.Regressions) == 0 {
		return
	}

	for _, block := range groupComparisons(s.Regressions) {
		fmt.Fprintln(w, block[0].Test)
		t := newTable(w)
		t.AddHeader("Violation", "Compared_to", "Thread", "Target", "Achieved", "delta(%)")
		for _, line := range block {
			t.AddLine(
				line.Label,
				line.Reference,
				line.ThreadLevel,
				fmt.Sprintf("%.2f", line.Target),
				fmt.Sprintf("%.2f", line.Achieved),
				fmt.Sprintf("%.2f", line.PercentDiff),
			)
		}
		t.Print()
		fmt.Fprintln(w)
	}
}

// RenderLag writes the replica lag table, one block per test.
func (s *Summary) RenderLag(w io.Writer) {
	if len(s.Lag) == 0 {
		return
	}

	blocks := map[string][]LagSummary{}
	order := []string{}
	for _, line := range s.Lag {
		if _, seen := blocks[line.Test]; !seen {
			order = append(order, line.Test)
		}
		blocks[line.Test] = append(blocks[line.Test], line)
	}

	for _, test := range order {
		fmt.Fprintln(w, test)
		t := newTable(w)
		t.AddHeader("Thread", "Avg_lag", "Max_lag", "End_of_test_lag")
		for _, line := range blocks[test] {
			t.AddLine(
				line.Thread,
				fmt.Sprintf("%.2f", line.AvgLag),
				fmt.Sprintf("%.2f", line.MaxLag),
				fmt.Sprintf("%.2f", line.EndOfTestLag),
			)
		}
		t.Print()
		fmt.Fprintln(w)
	}
}

func newTable(w io.Writer) *tabby.Tabby {
	return tabby.NewCustom(tabwriter.NewWriter(w, 12, 0, 2, ' ', 0))
}

func groupComparisons(lines []Comparison) [][]Comparison {
	blocks := map[string][]Comparison{}
	order := []string{}
	for _, line := range lines {
		if _, seen := blocks[line.Test]; !seen {
			order = append(order, line.Test)
		}
		blocks[line.Test] = append(blocks[line.Test], line)
	}

	out := make([][]Comparison, 0, len(order))
	for _, test := range order {
		out = append(out, blocks[test])
	}

	return out
}

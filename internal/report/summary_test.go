package report

import (
	"strings"
	"testing"
	"time"
)

func TestSummaryLayout(t *testing.T) {
	res := &Result{
		BestColumn: "price",
		Reward:     Reward{{Name: "ACCURACY", Value: 0.9}, {Name: "coverage", Value: 0.12345}},
		Relations: []Relation{
			{Source: "area", Destination: "price", Degree: 2, RSquared: 0.95},
		},
	}
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	got := Summary(res, at)
	want := "### 🔍 Best column: `price`\n\n" +
		"#### Reward metrics\n" +
		"- **Accuracy** : 0.900\n" +
		"- **Coverage** : 0.123\n" +
		"\n#### Top relations\n" +
		"| Relation | Degree | R² |\n" +
		"|----------|--------|----|\n" +
		"| area → price | 2 | 0.950 |\n" +
		"\n*Generated 2024-03-05 14:07:09*\n"
	if got != want {
		t.Fatalf("summary mismatch:\n%s\nwant:\n%s", got, want)
	}
}

func TestSummaryEscapesTableCells(t *testing.T) {
	res := &Result{BestColumn: "y", Relations: []Relation{{Source: "a|b", Destination: "y", Degree: 1}}}
	got := Summary(res, time.Now())
	if !strings.Contains(got, "| a/b → y | 1 | 0.000 |") {
		t.Fatalf("unexpected row:\n%s", got)
	}
}

func TestFailureSummaryHidesDetailUnlessInput(t *testing.T) {
	in := FailureSummary("input", "run-1", "unsupported file type .xlsx")
	if !strings.Contains(in, "unsupported file type .xlsx") || !strings.Contains(in, "run-1") {
		t.Fatalf("input summary = %q", in)
	}
	script := FailureSummary("script", "run-2", "Traceback: secret path /srv/x")
	if strings.Contains(script, "secret") {
		t.Fatalf("script detail leaked: %q", script)
	}
	if !strings.HasPrefix(script, "### ❌ Analysis failed") || !strings.Contains(script, "see server logs") {
		t.Fatalf("script summary = %q", script)
	}
}

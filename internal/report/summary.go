package report

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Summary renders the Markdown shown next to the chart: best column, reward
// metrics and the relation table, stamped with generatedAt.
func Summary(res *Result, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("### 🔍 Best column: `%s`\n\n", res.BestColumn))

	b.WriteString("#### Reward metrics\n")
	for _, m := range res.Reward {
		b.WriteString(fmt.Sprintf("- **%s** : %.3f\n", capitalize(m.Name), m.Value))
	}

	b.WriteString("\n#### Top relations\n")
	b.WriteString("| Relation | Degree | R² |\n")
	b.WriteString("|----------|--------|----|\n")
	for _, r := range res.Relations {
		b.WriteString(fmt.Sprintf("| %s → %s | %d | %.3f |\n", cell(r.Source), cell(r.Destination), r.Degree, r.RSquared))
	}

	b.WriteString(fmt.Sprintf("\n*Generated %s*\n", generatedAt.Format("2006-01-02 15:04:05")))
	return b.String()
}

// FailureSummary renders the user-facing failure block. Only input problems
// carry their detail; everything else points at the server logs with the run
// ID so operators can find the full error.
func FailureSummary(kind, runID, detail string) string {
	var b strings.Builder
	b.WriteString("### ❌ Analysis failed\n")
	switch kind {
	case "input":
		b.WriteString(fmt.Sprintf("The uploaded file could not be used: %s\n", detail))
	case "canceled":
		b.WriteString("The analysis was canceled before it finished.\n")
	default:
		b.WriteString("*(see server logs)*\n")
	}
	if runID != "" {
		b.WriteString(fmt.Sprintf("\nRun ID: `%s`\n", runID))
	}
	return b.String()
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func cell(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }

package report

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lev "github.com/agnivade/levenshtein"
)

// maxLabelDistance is how far a section label may drift from the expected
// spelling and still be recognised (e.g. "Reward breakdown").
const maxLabelDistance = 2

const (
	labelBestColumn = "best column"
	labelReward     = "reward break-down"
	labelRelations  = "top relations"
)

var (
	labelPatterns = map[string]*regexp.Regexp{
		labelBestColumn: labelRegexp(labelBestColumn),
		labelReward:     labelRegexp(labelReward),
		labelRelations:  labelRegexp(labelRelations),
	}
	relationLine = regexp.MustCompile(`(?i)^\s*(.*?)\s*(?:→|->)\s*(.*?)\s*deg\s*=\s*(\d+)\s*,?\s*R(?:²|2|\^2)\s*=\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:e[-+]?\d+)?|nan|[-+]?inf)`)
)

func labelRegexp(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*:`)
}

// Parse extracts a Result from the script's stdout. A JSON document carrying
// "best_column" takes precedence; otherwise the line-oriented text contract
// is parsed. Missing or malformed sections produce a *FormatError.
func Parse(stdout string) (*Result, error) {
	if res, ok, err := parseStructured(stdout); ok {
		return res, err
	}
	return parseText(stdout)
}

func parseText(stdout string) (*Result, error) {
	lines := splitLines(stdout)
	res := &Result{Format: FormatText}

	// Best column
	_, rest, ok := findSection(lines, labelBestColumn)
	if !ok {
		return nil, missing(SectionBestColumn)
	}
	res.BestColumn = strings.TrimSpace(rest)
	if res.BestColumn == "" {
		return nil, &FormatError{Section: SectionBestColumn, Reason: "empty column name"}
	}

	// Reward break-down
	_, rest, ok = findSection(lines, labelReward)
	if !ok {
		return nil, missing(SectionReward)
	}
	open := strings.IndexByte(rest, '{')
	closing := strings.LastIndexByte(rest, '}')
	if open < 0 || closing < open {
		return nil, &FormatError{Section: SectionReward, Reason: "no {...} mapping on the line"}
	}
	reward, err := parsePyDict(rest[open : closing+1])
	if err != nil {
		return nil, &FormatError{Section: SectionReward, Reason: "malformed mapping", Err: err}
	}
	res.Reward = reward

	// Top relations
	idx, rest, ok := findSection(lines, labelRelations)
	if !ok {
		return nil, missing(SectionRelations)
	}
	rels, err := parseRelationBlock(rest, lines[idx+1:])
	if err != nil {
		return nil, err
	}
	res.Relations = rels
	return res, nil
}

// findSection locates a labelled line and returns its index and the text
// after the label's colon. Exact (case-insensitive) matches anywhere in a
// line win; otherwise a line whose leading "label:" is within
// maxLabelDistance edits is accepted.
func findSection(lines []string, label string) (int, string, bool) {
	re := labelPatterns[label]
	for i, line := range lines {
		if loc := re.FindStringIndex(line); loc != nil {
			return i, line[loc[1]:], true
		}
	}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		colon := strings.IndexByte(trimmed, ':')
		if colon <= 0 {
			continue
		}
		head := strings.ToLower(strings.TrimSpace(trimmed[:colon]))
		if lev.ComputeDistance(head, label) <= maxLabelDistance {
			return i, trimmed[colon+1:], true
		}
	}
	return -1, "", false
}

// parseRelationBlock reads relation rows starting with any text on the
// header line itself, then the following lines up to the first blank line
// (or the end of output). Blank lines directly after the header are skipped.
func parseRelationBlock(headerRest string, following []string) ([]Relation, error) {
	var block []string
	if s := strings.TrimSpace(headerRest); s != "" {
		block = append(block, s)
	}
	started := len(block) > 0
	for _, line := range following {
		if strings.TrimSpace(line) == "" {
			if started {
				break
			}
			continue
		}
		started = true
		block = append(block, line)
	}

	rels := make([]Relation, 0, len(block))
	for _, line := range block {
		m := relationLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		deg, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, &FormatError{Section: SectionRelations, Reason: fmt.Sprintf("bad degree in %q", line), Err: err}
		}
		r2, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return nil, &FormatError{Section: SectionRelations, Reason: fmt.Sprintf("bad R² in %q", line), Err: err}
		}
		rels = append(rels, Relation{
			Source:      strings.TrimSpace(m[1]),
			Destination: strings.TrimSpace(m[2]),
			Degree:      deg,
			RSquared:    r2,
		})
	}
	return rels, nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

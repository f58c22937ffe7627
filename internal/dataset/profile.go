package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options controls profiling.
type Options struct {
	// MaxRows limits rows inspected; 0 means unlimited. Rows past the limit
	// are still counted.
	MaxRows int
	// SampleRows is how many leading rows the profile keeps.
	SampleRows int
	// Delimiter overrides sniffing when non-zero.
	Delimiter rune
}

// DefaultOptions returns the limits used for uploads.
func DefaultOptions() Options {
	return Options{MaxRows: 100000, SampleRows: 5}
}

// Column kinds.
const (
	KindNumeric     = "numeric"
	KindDatetime    = "datetime"
	KindCategorical = "categorical"
	KindText        = "text"
	KindUnknown     = "unknown"
)

// Profile summarises a delimited dataset.
type Profile struct {
	Name      string
	Delimiter rune
	Rows      int
	Processed int
	Cols      []ColumnSummary
	Samples   [][]string
	Warnings  []string
}

// ColumnSummary captures the inferred kind and statistics of one column.
type ColumnSummary struct {
	Name    string
	Kind    string
	Unit    string
	NonNull int
	Missing int
	Unique  int

	Min  float64
	Max  float64
	Mean float64
	Std  float64

	TopValues    []CategoryCount
	ExampleTexts []string
}

type CategoryCount struct {
	Value string
	Count int
}

// ColumnNames lists column names in file order.
func (p *Profile) ColumnNames() []string {
	out := make([]string, len(p.Cols))
	for i, c := range p.Cols {
		out[i] = c.Name
	}
	return out
}

type colAcc struct {
	name   string
	unit   string
	nonNil int
	miss   int

	// Welford
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64

	numCnt int
	dtCnt  int
	txtCnt int
	cats   map[string]int
	exText []string
}

func (c *colAcc) addNumber(x float64) {
	c.numCnt++
	c.n++
	if x < c.min {
		c.min = x
	}
	if x > c.max {
		c.max = x
	}
	delta := x - c.mean
	c.mean += delta / float64(c.n)
	c.m2 += delta * (x - c.mean)
}

func (c *colAcc) summary() ColumnSummary {
	s := ColumnSummary{Name: c.name, Unit: c.unit, NonNull: c.nonNil, Missing: c.miss, Kind: KindUnknown}
	switch {
	case c.numCnt > 0 && c.numCnt >= c.dtCnt && c.numCnt >= c.txtCnt:
		s.Kind = KindNumeric
		s.Min, s.Max, s.Mean = c.min, c.max, c.mean
		if c.n > 1 {
			s.Std = math.Sqrt(c.m2 / float64(c.n-1))
		}
	case c.dtCnt > 0 && c.dtCnt >= c.txtCnt:
		s.Kind = KindDatetime
	case len(c.cats) > 0:
		s.Kind = KindCategorical
		tops := make([]CategoryCount, 0, len(c.cats))
		for k, v := range c.cats {
			tops = append(tops, CategoryCount{Value: k, Count: v})
		}
		sort.Slice(tops, func(i, j int) bool {
			if tops[i].Count == tops[j].Count {
				return tops[i].Value < tops[j].Value
			}
			return tops[i].Count > tops[j].Count
		})
		if len(tops) > 8 {
			tops = tops[:8]
		}
		s.TopValues = tops
		s.Unique = len(c.cats)
	case c.txtCnt > 0:
		s.Kind = KindText
		s.ExampleTexts = c.exText
	}
	return s
}

// ProfileFile reads the dataset at path. Files the CSV reader rejects
// produce an *InputError.
func ProfileFile(path string, opt Options) (*Profile, error) {
	name := filepath.Base(path)
	delim := opt.Delimiter
	if delim == 0 {
		d, err := SniffDelimiter(path)
		if err != nil {
			return nil, err
		}
		delim = d
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	// Bare quotes such as 5'10" are data, not syntax.
	r.LazyQuotes = true
	r.Comma = delim

	prof := &Profile{Name: name, Delimiter: delim}
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &InputError{Name: name, Reason: "no header row"}
		}
		return nil, &InputError{Name: name, Reason: "malformed header", Err: err}
	}
	ncol := len(header)
	cols := make([]*colAcc, ncol)
	for i, h := range header {
		clean, unit := splitUnits(strings.TrimPrefix(strings.TrimSpace(h), "\ufeff"))
		cols[i] = &colAcc{name: clean, unit: unit, min: math.Inf(1), max: math.Inf(-1), cats: map[string]int{}}
	}

	maxRows := opt.MaxRows
	if maxRows <= 0 {
		maxRows = math.MaxInt
	}
	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = 5
	}

	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &InputError{Name: name, Reason: fmt.Sprintf("malformed row %d", prof.Rows+2), Err: err}
		}
		prof.Rows++
		if len(rec) != ncol {
			if len(prof.Warnings) < 5 {
				prof.Warnings = append(prof.Warnings, fmt.Sprintf("row %d has %d fields, header has %d", prof.Rows+1, len(rec), ncol))
			}
			tmp := make([]string, ncol)
			copy(tmp, rec)
			rec = tmp
		}
		if prof.Processed >= maxRows {
			continue
		}
		prof.Processed++
		if len(prof.Samples) < sampleRows {
			row := make([]string, ncol)
			copy(row, rec)
			prof.Samples = append(prof.Samples, row)
		}
		for j := 0; j < ncol; j++ {
			v := strings.TrimSpace(rec[j])
			c := cols[j]
			if v == "" || isMissingToken(v) {
				c.miss++
				continue
			}
			c.nonNil++
			if strings.Contains(v, "%") && c.unit == "" {
				c.unit = "%"
			}
			if x, ok := parseNumeric(v); ok {
				c.addNumber(x)
				continue
			}
			if _, ok := parseTimeMaybe(v); ok {
				c.dtCnt++
				continue
			}
			c.txtCnt++
			if len(c.cats) <= 10000 && len(v) <= 64 {
				c.cats[v]++
			}
			if len(c.exText) < 3 {
				c.exText = append(c.exText, v)
			}
		}
	}

	prof.Cols = make([]ColumnSummary, 0, ncol)
	for _, c := range cols {
		prof.Cols = append(prof.Cols, c.summary())
	}
	if prof.Processed < prof.Rows {
		prof.Warnings = append(prof.Warnings, fmt.Sprintf("processed only %d/%d rows due to MaxRows", prof.Processed, prof.Rows))
	}
	return prof, nil
}

var delimCandidates = []rune{',', ';', '\t', '|'}

// SniffDelimiter picks the delimiter for path: tab for .tsv, otherwise the
// candidate occurring most often in the first line (comma on ties or when
// none occurs).
func SniffDelimiter(path string) (rune, error) {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t', nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read first line: %w", err)
	}
	return sniffLine(line), nil
}

func sniffLine(line string) rune {
	best, bestN := ',', 0
	for _, d := range delimCandidates {
		if n := countOutsideQuotes(line, d); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func countOutsideQuotes(s string, d rune) int {
	n := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == d && !inQuote:
			n++
		}
	}
	return n
}

func isMissingToken(v string) bool {
	switch strings.ToLower(v) {
	case "na", "n/a", "nan", "null", "none", "-":
		return true
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
}

func parseTimeMaybe(s string) (time.Time, bool) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseNumeric accepts plain, percent and locale-formatted numbers
// ("1.000,5", "1,000.5", "12 %"). The decimal separator is whichever of
// ',' or '.' appears last.
func parseNumeric(s string) (float64, bool) {
	raw := strings.ReplaceAll(strings.TrimSpace(s), "%", "")
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\u00A0", " "))
	dec := '.'
	cpos := strings.LastIndex(raw, ",")
	dpos := strings.LastIndex(raw, ".")
	if cpos > dpos {
		dec = ','
	}
	for _, sep := range []rune{',', '.', ' '} {
		if sep != dec {
			raw = strings.ReplaceAll(raw, string(sep), "")
		}
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var unitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(.*)\s*\(([^)]+)\)\s*$`),  // Alpha (%)
	regexp.MustCompile(`^(.*)\s*\[([^\]]+)\]\s*$`), // Mass [mg/L]
}

func splitUnits(name string) (clean string, unit string) {
	for _, re := range unitPatterns {
		if m := re.FindStringSubmatch(name); len(m) == 3 {
			base, u := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if base != "" && u != "" {
				return base, u
			}
		}
	}
	return name, ""
}

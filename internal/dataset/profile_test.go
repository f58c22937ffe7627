package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestProfileFileInfersKinds(t *testing.T) {
	p := writeFile(t, "hop_harvest.csv",
		"date,plot,alpha_acids,moisture,note\n"+
			"2024-08-10,A1,12.5%,74,dry spell\n"+
			"2024-08-12,A1,11.8%,71,\n"+
			"2024-08-15,B3,10.2%,NA,rain overnight\n")
	prof, err := ProfileFile(p, DefaultOptions())
	if err != nil {
		t.Fatalf("ProfileFile: %v", err)
	}
	if prof.Rows != 3 || prof.Delimiter != ',' {
		t.Fatalf("rows=%d delim=%q", prof.Rows, prof.Delimiter)
	}
	kinds := map[string]string{}
	for _, c := range prof.Cols {
		kinds[c.Name] = c.Kind
	}
	want := map[string]string{
		"date": KindDatetime, "plot": KindCategorical, "alpha_acids": KindNumeric,
		"moisture": KindNumeric, "note": KindCategorical,
	}
	for k, v := range want {
		if kinds[k] != v {
			t.Fatalf("%s kind = %q, want %q", k, kinds[k], v)
		}
	}
	moisture := prof.Cols[3]
	if moisture.Missing != 1 || moisture.Min != 71 || moisture.Max != 74 || moisture.Mean != 72.5 {
		t.Fatalf("moisture = %+v", moisture)
	}
	md := prof.Markdown()
	for _, s := range []string{"[DATASET SUMMARY]", "File: hop_harvest.csv", "alpha_acids [%]: numeric", "date: datetime", "Delimiter: comma", "[HEAD AND SAMPLE ROWS]"} {
		if !strings.Contains(md, s) {
			t.Fatalf("markdown missing %q:\n%s", s, md)
		}
	}
}

func TestProfileFileSniffsSemicolonTxt(t *testing.T) {
	p := writeFile(t, "metrics.txt", "Group;Score;Temp (°F)\nA;10,5;70\nB;9,8;71\n")
	prof, err := ProfileFile(p, DefaultOptions())
	if err != nil {
		t.Fatalf("ProfileFile: %v", err)
	}
	if prof.Delimiter != ';' {
		t.Fatalf("delimiter = %q", prof.Delimiter)
	}
	if got := strings.Join(prof.ColumnNames(), ","); got != "Group,Score,Temp" {
		t.Fatalf("columns = %s", got)
	}
	score := prof.Cols[1]
	if score.Kind != KindNumeric || score.Min != 9.8 || score.Max != 10.5 {
		t.Fatalf("score = %+v", score)
	}
	if prof.Cols[2].Unit != "°F" {
		t.Fatalf("unit = %q", prof.Cols[2].Unit)
	}
}

func TestProfileFileTSVAndMaxRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("x\ty\n")
	for i := 0; i < 10; i++ {
		b.WriteString("1\t2\n")
	}
	p := writeFile(t, "data.tsv", b.String())
	prof, err := ProfileFile(p, Options{MaxRows: 4, SampleRows: 2})
	if err != nil {
		t.Fatalf("ProfileFile: %v", err)
	}
	if prof.Rows != 10 || prof.Processed != 4 || len(prof.Samples) != 2 {
		t.Fatalf("rows=%d processed=%d samples=%d", prof.Rows, prof.Processed, len(prof.Samples))
	}
	if !strings.Contains(prof.Markdown(), "Rows: ~10 (processed 4)") {
		t.Fatalf("markdown = %s", prof.Markdown())
	}
}

func TestProfileFileToleratesBareQuotes(t *testing.T) {
	p := writeFile(t, "heights.csv", "name,height\nbob,5'10\"\nann,6'1\"\n")
	prof, err := ProfileFile(p, DefaultOptions())
	if err != nil {
		t.Fatalf("ProfileFile: %v", err)
	}
	if prof.Rows != 2 {
		t.Fatalf("rows = %d, want 2", prof.Rows)
	}
	if got := prof.Samples[0][1]; got != "5'10\"" {
		t.Fatalf("sample = %q", got)
	}
}

func TestProfileFileNoHeader(t *testing.T) {
	p := writeFile(t, "blank.csv", "\n\n")
	_, err := ProfileFile(p, DefaultOptions())
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func TestSniffLine(t *testing.T) {
	cases := map[string]rune{
		"a,b,c":     ',',
		"a;b;c":     ';',
		"a\tb\tc":   '\t',
		"a|b|c":     '|',
		`"x;y",b,c`: ',',
		"single":    ',',
		"a;b,c;d":   ';',
	}
	for line, want := range cases {
		if got := sniffLine(line); got != want {
			t.Errorf("sniffLine(%q) = %q, want %q", line, got, want)
		}
	}
}

func TestParseNumericLocales(t *testing.T) {
	cases := map[string]float64{
		"1.000,5": 1000.5,
		"1,000.5": 1000.5,
		"12,5 %":  12.5,
		"-3e2":    -300,
		"1 234.5": 1234.5,
	}
	for in, want := range cases {
		got, ok := parseNumeric(in)
		if !ok || got != want {
			t.Errorf("parseNumeric(%q) = %v %v, want %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"abc", "inf", "1.2.3x"} {
		if _, ok := parseNumeric(in); ok {
			t.Errorf("parseNumeric(%q) should fail", in)
		}
	}
}

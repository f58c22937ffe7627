package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/mpie/internal/engine"
	"github.com/KaramelBytes/mpie/internal/utils"
	"github.com/KaramelBytes/mpie/internal/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	anaPDFOut   string
	anaChartOut string
	anaJSON     bool
	anaRaw      bool
	anaQuiet    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <files...>",
	Short: "Run the analysis script on one or more CSV/TSV/TXT files",
	Long: `Analyze runs the pattern discovery script on each file and prints the
summary. Glob patterns are expanded. With several inputs, --pdf and --chart
name directories that receive <name>.pdf and <name>.png per file (inputs
sharing a name get -2, -3, ... suffixes), and --json prints one compact
object per line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		c, err := requireConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(c)
		if err != nil {
			return err
		}
		defer a.close()
		a.engine.Sweep(time.Now())

		out := cmd.OutOrStdout()
		multi := len(files) > 1
		stems := outputStems(files)
		var renderer *glamour.TermRenderer
		if !anaJSON && !anaRaw {
			renderer, err = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(80),
			)
			if err != nil {
				return fmt.Errorf("terminal renderer: %w", err)
			}
		}

		failed := 0
		total := len(files)
		for i, path := range files {
			if !anaQuiet && !anaJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			run, err := a.engine.Analyze(cmd.Context(), engine.Request{Path: path, Filename: filepath.Base(path)})
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", filepath.Base(path), err)
				continue
			}
			if err := writeOutputs(run, stems[path], multi); err != nil {
				return err
			}
			switch {
			case anaJSON:
				var b []byte
				if multi {
					b, err = json.Marshal(web.NewAPIRun(run))
				} else {
					b, err = json.MarshalIndent(web.NewAPIRun(run), "", "  ")
				}
				if err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
				fmt.Fprintln(out, string(b))
			case anaRaw:
				fmt.Fprint(out, run.Stdout)
			default:
				rendered, err := renderer.Render(run.Summary)
				if err != nil {
					rendered = run.Summary
				}
				fmt.Fprint(out, rendered)
				if run.Reused && !anaQuiet {
					fmt.Fprintln(out, "(reused an earlier result for identical data)")
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d analyses failed", failed, total)
		}
		return nil
	},
}

// expandInputs resolves globs, de-duplicates and sorts the result.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

// outputStems assigns each input a distinct output file stem: the base name
// without extension, suffixed -2, -3, ... when several inputs share it.
func outputStems(files []string) map[string]string {
	stems := make(map[string]string, len(files))
	taken := map[string]bool{}
	for _, f := range files {
		base := filepath.Base(f)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		cand := stem
		for i := 2; taken[cand]; i++ {
			cand = fmt.Sprintf("%s-%d", stem, i)
		}
		taken[cand] = true
		stems[f] = cand
	}
	return stems
}

// writeOutputs copies the run's PDF and chart to the requested locations.
func writeOutputs(run *engine.Run, stem string, multi bool) error {
	if anaPDFOut != "" {
		if err := copyFile(run.PDFPath, outputPath(anaPDFOut, stem, ".pdf", multi)); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	if anaChartOut != "" && run.ChartPath != "" {
		if err := copyFile(run.ChartPath, outputPath(anaChartOut, stem, ".png", multi)); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	return nil
}

func outputPath(target, stem, ext string, multi bool) string {
	if !multi {
		return target
	}
	return filepath.Join(target, stem+ext)
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	return utils.SafeWrite(to, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&anaPDFOut, "pdf", "", "write the PDF report here (a directory with several inputs)")
	analyzeCmd.Flags().StringVar(&anaChartOut, "chart", "", "write the relation chart PNG here (a directory with several inputs)")
	analyzeCmd.Flags().BoolVar(&anaJSON, "json", false, "print the result as JSON")
	analyzeCmd.Flags().BoolVar(&anaRaw, "raw", false, "print the script's raw output")
	analyzeCmd.Flags().BoolVarP(&anaQuiet, "quiet", "q", false, "suppress progress lines")
}

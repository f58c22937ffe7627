package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/mpie/internal/dataset"
	"github.com/KaramelBytes/mpie/internal/utils"
)

var (
	profDelimiter  string
	profSampleRows int
	profMaxRows    int
	profOutput     string
)

var profileCmd = &cobra.Command{
	Use:   "profile <file>",
	Short: "Summarise a CSV/TSV/TXT dataset without running the analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		opt := dataset.DefaultOptions()
		if profSampleRows >= 0 {
			opt.SampleRows = profSampleRows
		}
		if profMaxRows >= 0 {
			opt.MaxRows = profMaxRows
		}
		switch profDelimiter {
		case "":
		case ",":
			opt.Delimiter = ','
		case "\t", "tab":
			opt.Delimiter = '\t'
		case ";":
			opt.Delimiter = ';'
		case "|", "pipe":
			opt.Delimiter = '|'
		default:
			return fmt.Errorf("unsupported --delimiter: %s", profDelimiter)
		}
		if !dataset.Accepts(path) {
			return &dataset.InputError{Name: filepath.Base(path), Reason: "unsupported file type (want .csv, .tsv or .txt)"}
		}
		if err := dataset.Validate(path, 0); err != nil {
			return err
		}
		p, err := dataset.ProfileFile(path, opt)
		if err != nil {
			return err
		}
		p.Name = filepath.Base(path)
		md := p.Markdown()

		if profOutput != "" {
			if err := utils.SafeWriteFile(profOutput, []byte(md)); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote profile to %s\n", profOutput)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().StringVar(&profDelimiter, "delimiter", "", "delimiter: ',' | ';' | 'tab' | 'pipe' (sniffed if omitted)")
	profileCmd.Flags().IntVar(&profSampleRows, "sample-rows", 5, "number of sample rows to include")
	profileCmd.Flags().IntVar(&profMaxRows, "max-rows", 100000, "maximum rows to process (0 = unlimited)")
	profileCmd.Flags().StringVarP(&profOutput, "output", "o", "", "optional path to write the profile (Markdown)")
}

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/mpie/internal/history"
)

var (
	runsLimit  int
	runsStdout bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent analyses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}
		entries, err := store.Recent(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "(no runs)")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "- %s  %s  %s  %s\n", e.ID, e.Filename, describe(e), humanize.Time(e.CreatedAt))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		e, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("run %s not found", args[0])
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run:       %s\n", e.ID)
		fmt.Fprintf(out, "File:      %s\n", e.Filename)
		fmt.Fprintf(out, "Status:    %s\n", describe(e))
		fmt.Fprintf(out, "Revision:  %s\n", e.Revision)
		fmt.Fprintf(out, "Dataset:   %s\n", e.DatasetHash)
		fmt.Fprintf(out, "Duration:  %s\n", e.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "Created:   %s (%s)\n", e.CreatedAt.Format(time.RFC3339), humanize.Time(e.CreatedAt))
		if runsStdout && e.Stdout != "" {
			fmt.Fprintln(out)
			fmt.Fprint(out, e.Stdout)
		}
		return nil
	},
}

func openHistory() (*history.Store, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(c.HistoryPath)
}

func describe(e history.Entry) string {
	if e.Status != history.StatusOK {
		return fmt.Sprintf("failed (%s)", e.ErrorKind)
	}
	s := fmt.Sprintf("best=%s relations=%d", e.BestColumn, e.RelationCount)
	if e.Reused {
		s += " reused"
	}
	return s
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
	runsShowCmd.Flags().BoolVar(&runsStdout, "stdout", false, "print the script output recorded for the run")
}

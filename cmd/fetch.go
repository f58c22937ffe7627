package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/mpie/internal/artifact"
	"github.com/KaramelBytes/mpie/internal/metrics"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the model repository that ships the analysis script",
	Long: `Fetch makes sure the configured model repository is available in the local
cache. An intact cached snapshot is reused unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(c)
		if err != nil {
			return err
		}
		f, err := newFetcher(c, metrics.New(), log)
		if err != nil {
			return err
		}
		var snap *artifact.Snapshot
		if fetchForce {
			snap, err = f.Refresh(cmd.Context())
		} else {
			snap, err = f.Ensure(cmd.Context())
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ %s@%s (commit %s)\n", snap.Repo, snap.Revision, snap.Commit)
		fmt.Fprintf(out, "  Location: %s\n", snap.Dir)
		fmt.Fprintf(out, "  Files: %d (%s)\n", len(snap.Files), humanize.IBytes(uint64(snap.TotalSize())))
		for _, fe := range snap.Files {
			fmt.Fprintf(out, "  - %s (%s)\n", fe.Name, humanize.IBytes(uint64(fe.Size)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "download again even if the cache is intact")
}

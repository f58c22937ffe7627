package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/mpie/internal/config"
	"github.com/KaramelBytes/mpie/internal/logging"
)

var (
	// Global flags
	cfgFile       string
	debug         bool
	flagLogFormat string

	// Loaded configuration
	cfg *cfgpkg.Global
	// cfgErr keeps the load failure so commands that need config can report it.
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "mpie",
	Short: "MPIE: mathematical pattern discovery on tabular data",
	Long: `MPIE serves a small dashboard that runs the published pattern discovery
script against an uploaded CSV/TXT dataset, then shows the best column, the
reward metrics and the strongest relations as a chart and a PDF report.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.mpie/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text|json (overrides config)")
}

func loadConfig() {
	cfg, cfgErr = nil, nil
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: config show/set still work with defaults on disk.
		cfgErr = err
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	if rootCmd.PersistentFlags().Changed("log-format") && flagLogFormat != "" {
		c.LogFormat = flagLogFormat
	}
	if debug {
		c.LogLevel = "debug"
	}
	cfg = c
}

// requireConfig returns the loaded config or the reason it is missing.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	if cfgErr != nil {
		return nil, cfgErr
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// newLogger builds the process logger from config; logs go to stderr so
// command output on stdout stays clean.
func newLogger(c *cfgpkg.Global) (*logrus.Logger, error) {
	return logging.New(os.Stderr, c.LogLevel, c.LogFormat)
}

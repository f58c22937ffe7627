package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/mpie/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set MPIE configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg == nil {
			fmt.Fprintln(out, "No config loaded")
			return nil
		}
		fmt.Fprintf(out, "host: %s\n", cfg.Host)
		fmt.Fprintf(out, "port: %d\n", cfg.Port)
		fmt.Fprintf(out, "model_repo: %s\n", cfg.ModelRepo)
		fmt.Fprintf(out, "model_revision: %s\n", cfg.ModelRevision)
		fmt.Fprintf(out, "hub_endpoint: %s\n", cfg.HubEndpoint)
		fmt.Fprintf(out, "hub_token: %s\n", mask(cfg.HubToken))
		fmt.Fprintf(out, "cache_dir: %s\n", cfg.CacheDir)
		fmt.Fprintf(out, "verify_cache: %t\n", cfg.VerifyCache)
		fmt.Fprintf(out, "fetch_timeout_sec: %d\n", cfg.FetchTimeoutSec)
		fmt.Fprintf(out, "fetch_concurrency: %d\n", cfg.FetchConcurrency)
		fmt.Fprintf(out, "python: %s\n", cfg.Python)
		fmt.Fprintf(out, "script_name: %s\n", cfg.ScriptName)
		if len(cfg.ScriptArgs) > 0 {
			fmt.Fprintf(out, "script_args: %s\n", strings.Join(cfg.ScriptArgs, " "))
		}
		fmt.Fprintf(out, "run_timeout_sec: %d\n", cfg.RunTimeoutSec)
		fmt.Fprintf(out, "max_concurrent: %d\n", cfg.MaxConcurrent)
		fmt.Fprintf(out, "work_dir: %s\n", cfg.WorkDir)
		fmt.Fprintf(out, "run_ttl_min: %d\n", cfg.RunTTLMin)
		fmt.Fprintf(out, "janitor_interval_min: %d\n", cfg.JanitorIntervalMin)
		fmt.Fprintf(out, "max_upload_mb: %d\n", cfg.MaxUploadMB)
		fmt.Fprintf(out, "history_path: %s\n", cfg.HistoryPath)
		fmt.Fprintf(out, "reuse_results: %t\n", cfg.ReuseResults)
		fmt.Fprintf(out, "pdf_wrap_width: %d\n", cfg.PDFWrapWidth)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "log_format: %s\n", cfg.LogFormat)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if err := setKey(c, key, val); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func setKey(c *cfgpkg.Global, key, val string) error {
	intVal := func(min int) (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil || i < min {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	boolVal := func() (bool, error) {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		return b, nil
	}
	var err error
	switch key {
	case "host":
		c.Host = val
	case "port":
		c.Port, err = intVal(1)
	case "model_repo":
		c.ModelRepo = val
	case "model_revision":
		c.ModelRevision = val
	case "hub_endpoint":
		c.HubEndpoint = val
	case "hub_token":
		c.HubToken = val
	case "cache_dir":
		c.CacheDir = val
	case "verify_cache":
		c.VerifyCache, err = boolVal()
	case "fetch_timeout_sec":
		c.FetchTimeoutSec, err = intVal(0)
	case "fetch_concurrency":
		c.FetchConcurrency, err = intVal(1)
	case "python":
		c.Python = val
	case "script_name":
		c.ScriptName = val
	case "script_args":
		c.ScriptArgs = strings.Fields(val)
	case "run_timeout_sec":
		c.RunTimeoutSec, err = intVal(0)
	case "max_concurrent":
		c.MaxConcurrent, err = intVal(1)
	case "work_dir":
		c.WorkDir = val
	case "run_ttl_min":
		c.RunTTLMin, err = intVal(0)
	case "janitor_interval_min":
		c.JanitorIntervalMin, err = intVal(0)
	case "max_upload_mb":
		c.MaxUploadMB, err = intVal(1)
	case "history_path":
		c.HistoryPath = val
	case "reuse_results":
		c.ReuseResults, err = boolVal()
	case "pdf_wrap_width":
		c.PDFWrapWidth, err = intVal(20)
	case "log_level":
		c.LogLevel = strings.ToLower(val)
	case "log_format":
		c.LogFormat = strings.ToLower(val)
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

// Package cmd implements the icafixsubmit command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/internal/observability"
)

// VersionInfo is stamped at build time via SetVersionInfo.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// AppIdentity names the binary and the directories it uses.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *AppIdentity
)

var (
	cfgFile   string
	logLevel  string
	logJSON   bool
	outFormat string
)

const (
	formatText  = "text"
	formatJSONL = "jsonl"
)

var rootCmd = &cobra.Command{
	Use:   "icafixsubmit",
	Short: "Submit MultiRunIcaFixProcessing jobs to a PBS cluster",
	Long: `icafixsubmit prepares and submits the MultiRunIcaFixProcessing pipeline
jobs for one subject session: get data, process data and put data, chained
so each starts only after the previous one succeeds.

Submission is refused while earlier jobs for the same session are still
queued or running.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	appIdentity = &AppIdentity{
		BinaryName: "icafixsubmit",
		ConfigName: config.AppName,
		EnvPrefix:  config.EnvPrefix,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/icafixsubmit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", formatText, "Result format (text|jsonl)")
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the application identity, or nil before init.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		fmt.Fprintln(os.Stderr, "Error:", ee.Error())
		return ee.Code
	}
	// Flag and argument errors from cobra itself.
	fmt.Fprintln(os.Stderr, "Error:", err)
	return foundry.ExitInvalidArgument
}

// initRuntime loads configuration and sets up logging before any command.
func initRuntime(cmd *cobra.Command, _ []string) error {
	if outFormat != formatText && outFormat != formatJSONL {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("unsupported format: %s", outFormat))
	}

	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}
	cfg, err := config.Load(cmd.Context(), cfgFile, overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	observability.InitCLILogger(cfg.Logging.Level, logJSON)
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("config_file", cfgFile),
		zap.String("jobs_home", cfg.JobsHome),
		zap.String("build_home", cfg.BuildHome),
		zap.String("registry_dir", cfg.Registry.Dir))
	return nil
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s (exit code %d): %v", e.Message, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

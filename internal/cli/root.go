package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/dl-alexandre/pdsync/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger = logging.NewNoOpLogger()
	outputTap   *logging.OutputTap
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pdsync",
	Short: "Mirror a ProtonDrive (or any rclone) remote into a local folder",
	Long: `pdsync drives rclone to keep a local folder in step with a remote.
Choose which remote folders to mirror, estimate the transfer before it starts,
and confirm large syncs before any data moves.

All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		applyFlagOverrides(cmd, cfg)

		if err := validateGlobalFlags(); err != nil {
			return err
		}

		logConfig := cfg.LogConfig()
		logConfig.EnableConsole = !globalFlags.Quiet
		logConfig.EnableDebug = globalFlags.Debug
		if globalFlags.Verbose {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, outputTap, err = logging.NewDebugLoggerWithTap(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version number of pdsync",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		if globalFlags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", version.Get())
		}
		_, err := fmt.Fprintln(out.Writer(), version.Get().String())
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log raw rclone output")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Yes, "yes", "y", false, "Answer yes to all prompts")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.RclonePath, "rclone", "", "Path to the rclone binary")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Remote, "remote", "", "rclone remote to use instead of the configured one")

	rootCmd.AddCommand(versionCmd)
}

// configPath is the file named by --config, or the default location.
func configPath() (string, error) {
	if globalFlags.Config != "" {
		return globalFlags.Config, nil
	}
	return config.GetConfigPath()
}

func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.LoadFrom(path)
}

// applyFlagOverrides gives explicitly set flags precedence over env and file.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	if globalFlags.RclonePath != "" {
		c.RclonePath = globalFlags.RclonePath
	}
	if globalFlags.Remote != "" {
		c.RemoteName = globalFlags.Remote
	}
	if globalFlags.LogFile != "" {
		c.LogFile = globalFlags.LogFile
	}
	if !cmd.Flags().Changed("output") && !globalFlags.JSON {
		globalFlags.OutputFormat = c.DefaultOutputFormat
	}
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.Errorf(utils.ErrCodeInvalidArgument, "invalid output format: %s", globalFlags.OutputFormat)
	}
	return nil
}

func newOutput() *config.OutputFormatter {
	return config.NewOutputFormatter(config.OutputOptions{
		Format:  globalFlags.OutputFormat,
		Quiet:   globalFlags.Quiet,
		Verbose: globalFlags.Verbose,
	})
}

// reportedError wraps an error that has already been written to the user.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// fail writes err in the current output format and returns it marked as reported.
func fail(out *config.OutputFormatter, command string, err error) error {
	if werr := out.WriteError(command, utils.AsCLIError(err)); werr != nil {
		return werr
	}
	return &reportedError{err: err}
}

// Execute runs the root command and exits with the code of the failure.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var reported *reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	code := utils.GetExitCode(utils.CodeOf(err))
	if code == utils.ExitUnknown && utils.CodeOf(err) == utils.ErrCodeUnknown && !errors.As(err, &reported) {
		// cobra's own argument and flag errors
		code = utils.ExitInvalidArgument
	}
	os.Exit(code)
	return err
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

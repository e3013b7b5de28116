package cli

import (
	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing pdsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration, after environment and flag overrides",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Use 'config keys' to see available keys",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by 'config set'",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newOutput().WriteSuccess("config.keys", map[string]interface{}{"keys": config.Keys()})
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  "Reset all configuration settings to their default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where configuration and history are stored",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newOutput()
	return out.WriteSuccess("config.show", configAsMap(cfg))
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	out := newOutput()

	// edit the file's values, not the env and flag overrides
	path, err := configPath()
	if err != nil {
		return fail(out, "config.set", err)
	}
	onDisk, err := config.LoadFrom(path)
	if err != nil {
		return fail(out, "config.set", err)
	}
	if err := onDisk.Set(args[0], args[1]); err != nil {
		return fail(out, "config.set", err)
	}
	if err := onDisk.SaveTo(path); err != nil {
		return fail(out, "config.set", err)
	}

	out.Log("Set %s = %s", args[0], args[1])
	return out.WriteSuccess("config.set", configAsMap(onDisk))
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := newOutput()
	path, err := configPath()
	if err != nil {
		return fail(out, "config.reset", err)
	}
	fresh := config.DefaultConfig()
	if err := fresh.SaveTo(path); err != nil {
		return fail(out, "config.reset", err)
	}
	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", configAsMap(fresh))
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := newOutput()
	path, err := configPath()
	if err != nil {
		return fail(out, "config.path", err)
	}
	indexPath, err := config.GetIndexPath()
	if err != nil {
		return fail(out, "config.path", err)
	}
	return out.WriteSuccess("config.path", map[string]string{
		"config":  path,
		"history": indexPath,
	})
}

// configAsMap flattens the config for key/value tables.
func configAsMap(c *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"rclonePath":             c.RclonePath,
		"remoteName":             c.RemoteName,
		"localFolder":            c.LocalFolder,
		"syncMode":               c.SyncMode,
		"includedFolders":        c.IncludedFolders,
		"excludedFolders":        c.ExcludedFolders,
		"bandwidthLimitKbps":     c.BandwidthLimitKbps,
		"confirmLargeSync":       c.ConfirmLargeSync,
		"largeSyncThresholdMB":   c.LargeSyncThresholdMB,
		"dryRunFirstSync":        c.DryRunFirstSync,
		"autoSyncEnabled":        c.AutoSyncEnabled,
		"syncIntervalMinutes":    c.SyncIntervalMinutes,
		"cancelGraceSeconds":     c.CancelGraceSeconds,
		"listTimeoutSeconds":     c.ListTimeoutSeconds,
		"estimateTimeoutSeconds": c.EstimateTimeoutSeconds,
		"logLevel":               c.LogLevel,
		"logFile":                c.LogFile,
		"defaultOutputFormat":    c.DefaultOutputFormat,
		"colorOutput":            c.ColorOutput,
	}
}

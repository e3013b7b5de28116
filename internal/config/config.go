package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	pdsync "github.com/dl-alexandre/pdsync/internal/sync"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// ConfigDirName is the directory under ~/.config where state is stored
	ConfigDirName = "pdsync"
	// IndexFileName is the SQLite run history, relative to the config dir
	IndexFileName = "sync/index.db"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "PDSYNC_"
)

// Config holds application configuration
type Config struct {
	// RclonePath is the rclone binary, resolved through PATH when not absolute
	RclonePath string `json:"rclonePath"`

	// RemoteName is the rclone remote to mirror, with or without the trailing colon
	RemoteName string `json:"remoteName"`

	// LocalFolder is the absolute destination directory
	LocalFolder string `json:"localFolder"`

	// SyncMode is full, include or exclude
	SyncMode filter.Mode `json:"syncMode"`

	IncludedFolders []string `json:"includedFolders"`
	ExcludedFolders []string `json:"excludedFolders"`

	// BandwidthLimitKbps caps transfer speed, 0 means unlimited
	BandwidthLimitKbps int `json:"bandwidthLimitKbps"`

	// ConfirmLargeSync asks before transferring more than LargeSyncThresholdMB
	ConfirmLargeSync     bool  `json:"confirmLargeSync"`
	LargeSyncThresholdMB int64 `json:"largeSyncThresholdMB"`

	// DryRunFirstSync simulates the first sync of every new folder selection
	DryRunFirstSync bool `json:"dryRunFirstSync"`

	AutoSyncEnabled     bool `json:"autoSyncEnabled"`
	SyncIntervalMinutes int  `json:"syncIntervalMinutes"`

	// CancelGraceSeconds is how long rclone gets to exit after SIGTERM
	CancelGraceSeconds     int `json:"cancelGraceSeconds"`
	ListTimeoutSeconds     int `json:"listTimeoutSeconds"`
	EstimateTimeoutSeconds int `json:"estimateTimeoutSeconds"`

	// LogLevel sets the logging verbosity (debug, info, warn, error)
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// ColorOutput enables color output for console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RclonePath:             utils.DefaultRcloneBinary,
		RemoteName:             utils.DefaultRemoteName,
		SyncMode:               filter.ModeFull,
		IncludedFolders:        []string{},
		ExcludedFolders:        []string{},
		ConfirmLargeSync:       true,
		LargeSyncThresholdMB:   utils.DefaultLargeSyncThresholdMB,
		DryRunFirstSync:        true,
		SyncIntervalMinutes:    utils.DefaultSyncIntervalMinutes,
		CancelGraceSeconds:     int(utils.DefaultCancelGrace / time.Second),
		ListTimeoutSeconds:     int(utils.DefaultListTimeout / time.Second),
		EstimateTimeoutSeconds: int(utils.DefaultEstimateTimeout / time.Second),
		LogLevel:               "info",
		DefaultOutputFormat:    types.OutputFormatTable,
		ColorOutput:            true,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied on top by the caller.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		// Config file not existing is not an error
		if !os.IsNotExist(err) {
			return nil, configError(fmt.Sprintf("failed to load config file %s", path), err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	// older files spell the modes selective_include / selective_exclude
	mode, err := filter.ParseMode(string(c.SyncMode))
	if err != nil {
		return err
	}
	c.SyncMode = mode
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "RCLONE"); v != "" {
		c.RclonePath = v
	}
	if v := os.Getenv(EnvPrefix + "REMOTE"); v != "" {
		c.RemoteName = v
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_FOLDER"); v != "" {
		c.LocalFolder = v
	}
	if v := os.Getenv(EnvPrefix + "SYNC_MODE"); v != "" {
		if mode, err := filter.ParseMode(v); err == nil {
			c.SyncMode = mode
		}
	}
	if v := os.Getenv(EnvPrefix + "BWLIMIT_KBPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BandwidthLimitKbps = n
		}
	}
	if v := os.Getenv(EnvPrefix + "CONFIRM_LARGE_SYNC"); v != "" {
		c.ConfirmLargeSync = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "LARGE_SYNC_THRESHOLD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.LargeSyncThresholdMB = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DRY_RUN_FIRST_SYNC"); v != "" {
		c.DryRunFirstSync = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "SYNC_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SyncIntervalMinutes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

// Save saves the configuration to the default config file
func (c *Config) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo validates and writes the configuration to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return configError("failed to create config directory", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return configError("failed to marshal config", err)
	}

	// write-then-rename so a watching daemon never reads a half-written file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return configError("failed to write config file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return configError("failed to write config file", err)
	}
	return nil
}

// Validate validates the configuration. An unset remote or local folder is
// allowed here and reported by Settings, so that a fresh install can still
// run "config set".
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.RclonePath) == "" {
		problems = append(problems, "rclonePath must not be empty")
	}
	if c.LocalFolder != "" && !filepath.IsAbs(c.LocalFolder) {
		problems = append(problems, fmt.Sprintf("localFolder must be an absolute path, got: %s", c.LocalFolder))
	}
	if _, err := filter.ParseMode(string(c.SyncMode)); err != nil {
		problems = append(problems, err.Error())
	}
	if c.BandwidthLimitKbps < 0 {
		problems = append(problems, fmt.Sprintf("bandwidthLimitKbps must be non-negative, got: %d", c.BandwidthLimitKbps))
	}
	if c.LargeSyncThresholdMB < 1 || c.LargeSyncThresholdMB > utils.MaxMB {
		problems = append(problems, fmt.Sprintf("largeSyncThresholdMB must be between 1 and %d, got: %d", int64(utils.MaxMB), c.LargeSyncThresholdMB))
	}
	if c.SyncIntervalMinutes < 1 || c.SyncIntervalMinutes > 24*60 {
		problems = append(problems, fmt.Sprintf("syncIntervalMinutes must be between 1 and 1440, got: %d", c.SyncIntervalMinutes))
	}
	if c.CancelGraceSeconds < 1 || c.CancelGraceSeconds > 300 {
		problems = append(problems, fmt.Sprintf("cancelGraceSeconds must be between 1 and 300, got: %d", c.CancelGraceSeconds))
	}
	if c.ListTimeoutSeconds < 1 || c.EstimateTimeoutSeconds < 1 {
		problems = append(problems, "list and estimate timeouts must be at least 1 second")
	}
	if c.DefaultOutputFormat != types.OutputFormatJSON && c.DefaultOutputFormat != types.OutputFormatTable {
		problems = append(problems, fmt.Sprintf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat))
	}
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		problems = append(problems, fmt.Sprintf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if len(problems) == 0 {
		return nil
	}
	return utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeConfigError, "invalid configuration: "+strings.Join(problems, "; ")).
			WithContext("problems", problems).Build())
}

// IsConfigured reports whether a remote and a local folder have been chosen.
func (c *Config) IsConfigured() bool {
	return rclone.RemoteName(c.RemoteName) != "" && c.LocalFolder != ""
}

// Policy returns the folder selection as a filter policy.
func (c *Config) Policy() filter.Policy {
	return filter.Policy{
		Mode:          c.SyncMode,
		IncludedPaths: slices.Clone(c.IncludedFolders),
		ExcludedPaths: slices.Clone(c.ExcludedFolders),
	}
}

// Settings returns the per-run engine settings. With ConfirmLargeSync off the
// threshold is lifted so no run ever waits for confirmation.
func (c *Config) Settings() pdsync.Settings {
	threshold := utils.MBToBytes(c.LargeSyncThresholdMB)
	if !c.ConfirmLargeSync {
		threshold = math.MaxInt64
	}
	return pdsync.Settings{
		RemoteName:              c.RemoteName,
		LocalRoot:               c.LocalFolder,
		BandwidthLimitKbps:      c.BandwidthLimitKbps,
		LargeSyncThresholdBytes: threshold,
		DryRunBeforeFirstSync:   c.DryRunFirstSync,
	}
}

// LogConfig maps the logging settings onto a logging.LogConfig.
func (c *Config) LogConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = logging.ParseLevel(c.LogLevel)
	lc.OutputFile = c.LogFile
	lc.EnableColor = c.ColorOutput
	return lc
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

func (c *Config) ListTimeout() time.Duration {
	return time.Duration(c.ListTimeoutSeconds) * time.Second
}

func (c *Config) EstimateTimeout() time.Duration {
	return time.Duration(c.EstimateTimeoutSeconds) * time.Second
}

// FolderList names one of the two folder lists.
type FolderList string

const (
	Included FolderList = "include"
	Excluded FolderList = "exclude"
)

func (c *Config) list(which FolderList) (*[]string, error) {
	switch which {
	case Included:
		return &c.IncludedFolders, nil
	case Excluded:
		return &c.ExcludedFolders, nil
	}
	return nil, utils.Errorf(utils.ErrCodeInvalidArgument, "unknown folder list %q (want include or exclude)", which)
}

// AddFolder normalises path and appends it to the list unless already present.
// It reports whether the list changed.
func (c *Config) AddFolder(which FolderList, path string) (bool, error) {
	list, err := c.list(which)
	if err != nil {
		return false, err
	}
	norm, err := filter.NormalizePath(path)
	if err != nil {
		return false, err
	}
	if norm == "" {
		return false, utils.Errorf(utils.ErrCodeInvalidArgument, "folder path %q is empty", path)
	}
	if slices.Contains(*list, norm) {
		return false, nil
	}
	*list = append(*list, norm)
	return true, nil
}

// RemoveFolder drops path from the list and reports whether it was there.
func (c *Config) RemoveFolder(which FolderList, path string) (bool, error) {
	list, err := c.list(which)
	if err != nil {
		return false, err
	}
	norm, err := filter.NormalizePath(path)
	if err != nil {
		return false, err
	}
	i := slices.Index(*list, norm)
	if i < 0 {
		return false, nil
	}
	*list = slices.Delete(*list, i, i+1)
	return true, nil
}

// setters maps the JSON key of every scalar setting to its parser, for "config set".
var setters = map[string]func(c *Config, v string) error{
	"rclonePath":  func(c *Config, v string) error { c.RclonePath = v; return nil },
	"remoteName":  func(c *Config, v string) error { c.RemoteName = v; return nil },
	"localFolder": func(c *Config, v string) error { c.LocalFolder = v; return nil },
	"syncMode": func(c *Config, v string) error {
		mode, err := filter.ParseMode(v)
		if err == nil {
			c.SyncMode = mode
		}
		return err
	},
	"bandwidthLimitKbps":     intSetter(func(c *Config) *int { return &c.BandwidthLimitKbps }),
	"confirmLargeSync":       boolSetter(func(c *Config) *bool { return &c.ConfirmLargeSync }),
	"dryRunFirstSync":        boolSetter(func(c *Config) *bool { return &c.DryRunFirstSync }),
	"autoSyncEnabled":        boolSetter(func(c *Config) *bool { return &c.AutoSyncEnabled }),
	"syncIntervalMinutes":    intSetter(func(c *Config) *int { return &c.SyncIntervalMinutes }),
	"cancelGraceSeconds":     intSetter(func(c *Config) *int { return &c.CancelGraceSeconds }),
	"listTimeoutSeconds":     intSetter(func(c *Config) *int { return &c.ListTimeoutSeconds }),
	"estimateTimeoutSeconds": intSetter(func(c *Config) *int { return &c.EstimateTimeoutSeconds }),
	"largeSyncThresholdMB": func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", v)
		}
		c.LargeSyncThresholdMB = n
		return nil
	},
	"logLevel":            func(c *Config, v string) error { c.LogLevel = strings.ToLower(v); return nil },
	"logFile":             func(c *Config, v string) error { c.LogFile = v; return nil },
	"defaultOutputFormat": func(c *Config, v string) error { c.DefaultOutputFormat = types.OutputFormat(v); return nil },
	"colorOutput":         boolSetter(func(c *Config) *bool { return &c.ColorOutput }),
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", v)
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", v)
		}
		*field(c) = b
		return nil
	}
}

// Keys lists the settings accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set parses value into the setting named key and re-validates. On error the
// config is left unchanged.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return utils.NewAppError(
			utils.NewCLIError(utils.ErrCodeInvalidArgument, fmt.Sprintf("unknown setting %q", key)).
				WithContext("validKeys", Keys()).Build())
	}
	next := *c
	if err := set(&next, value); err != nil {
		return utils.Errorf(utils.ErrCodeInvalidArgument, "%s: %v", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetIndexPath returns the path to the run history database.
func GetIndexPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, filepath.FromSlash(IndexFileName)), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", configError("failed to get user home directory", err)
	}
	return filepath.Join(homeDir, ".config", ConfigDirName), nil
}

func configError(msg string, cause error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeConfigError, msg).Build(), cause)
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

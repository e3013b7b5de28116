package utils

import (
	"math"
	"time"
)

// Sync defaults
const (
	DefaultLargeSyncThresholdMB = 1000
	DefaultSyncIntervalMinutes  = 30
	DefaultCancelGrace          = 5 * time.Second
	DefaultListTimeout          = 30 * time.Second
	DefaultEstimateTimeout      = 60 * time.Second
	DefaultListMaxDepth         = 3
	DefaultStderrTailLines      = 20
)

// rclone invocation
const (
	DefaultRcloneBinary = "rclone"
	DefaultRemoteName   = "protondrive"
	StatsInterval       = "1s"
)

// Schema version
const SchemaVersion = "1.0"

// Binary units
const (
	KiB = 1024
	MiB = 1024 * KiB
)

// MaxMB is the largest megabyte value MBToBytes converts without saturating.
const MaxMB = math.MaxInt64 / MiB

// MBToBytes converts a megabyte setting to bytes (binary megabytes, as rclone
// reports them). Values above MaxMB saturate at math.MaxInt64.
func MBToBytes(mb int64) int64 {
	if mb > MaxMB {
		return math.MaxInt64
	}
	return mb * MiB
}

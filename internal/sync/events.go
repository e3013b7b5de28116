package sync

import (
	"time"

	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/progress"
)

// EventKind names an event variant.
type EventKind string

const (
	KindStarted              EventKind = "started"
	KindStateChanged         EventKind = "state_changed"
	KindEstimated            EventKind = "estimated"
	KindConfirmationRequired EventKind = "confirmation_required"
	KindProgress             EventKind = "progress"
	KindWarning              EventKind = "warning"
	KindPaused               EventKind = "paused"
	KindResumed              EventKind = "resumed"
	KindCompleted            EventKind = "completed"
	KindFailed               EventKind = "failed"
	KindCancelled            EventKind = "cancelled"
)

// Event is something that happened to a run. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	isEvent()
	Kind() EventKind
	// Time is when the event was published.
	Time() time.Time
}

type eventBase struct {
	At time.Time `json:"at"`
}

func (eventBase) isEvent()          {}
func (e eventBase) Time() time.Time { return e.At }

// Started is the first event of every run.
type Started struct {
	eventBase
	RunID     string `json:"runId"`
	Remote    string `json:"remote"`
	LocalRoot string `json:"localRoot"`
}

// StateChanged reports a state machine transition.
type StateChanged struct {
	eventBase
	From State `json:"from"`
	To   State `json:"to"`
}

// Estimated carries the pre-flight size estimate. A failed estimate is
// reported as a Warning followed by a zero Estimated.
type Estimated struct {
	eventBase
	Estimate inventory.SizeEstimate `json:"estimate"`
	Failed   bool                   `json:"failed,omitempty"`
}

// ConfirmationRequired means the run is parked until Confirm is called.
type ConfirmationRequired struct {
	eventBase
	Estimate       inventory.SizeEstimate `json:"estimate"`
	ThresholdBytes int64                  `json:"thresholdBytes"`
}

// Progress carries cumulative counters for the current rclone invocation.
// Simulated is set for every Progress produced by the dry run.
type Progress struct {
	eventBase
	BytesDone   int64         `json:"bytesDone"`
	BytesTotal  int64         `json:"bytesTotal"`
	FilesDone   int64         `json:"filesDone"`
	FilesTotal  int64         `json:"filesTotal"`
	CurrentFile string        `json:"currentFile,omitempty"`
	Rate        int64         `json:"rate,omitempty"`
	ETA         time.Duration `json:"eta"`
	Simulated   bool          `json:"simulated"`
}

// Warning is a non-fatal problem. Path is empty when it is not about one file.
type Warning struct {
	eventBase
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type Paused struct{ eventBase }

type Resumed struct{ eventBase }

// Completed is the terminal event of a successful run.
type Completed struct {
	eventBase
	Summary progress.Summary `json:"summary"`
}

// Failed is the terminal event of a run that could not finish. Reason is
// never empty. ExitCode is rclone's exit code, or 0 if it never ran.
type Failed struct {
	eventBase
	Reason   string `json:"reason"`
	Code     string `json:"code"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Cancelled is the terminal event of a run stopped by the caller.
type Cancelled struct {
	eventBase
	Reason string `json:"reason"`
}

func (Started) Kind() EventKind              { return KindStarted }
func (StateChanged) Kind() EventKind         { return KindStateChanged }
func (Estimated) Kind() EventKind            { return KindEstimated }
func (ConfirmationRequired) Kind() EventKind { return KindConfirmationRequired }
func (Progress) Kind() EventKind             { return KindProgress }
func (Warning) Kind() EventKind              { return KindWarning }
func (Paused) Kind() EventKind               { return KindPaused }
func (Resumed) Kind() EventKind              { return KindResumed }
func (Completed) Kind() EventKind            { return KindCompleted }
func (Failed) Kind() EventKind               { return KindFailed }
func (Cancelled) Kind() EventKind            { return KindCancelled }

// IsTerminal reports whether e ends its run.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Completed, Failed, Cancelled:
		return true
	}
	return false
}

func stamp(e Event, at time.Time) Event {
	b := eventBase{At: at}
	switch ev := e.(type) {
	case Started:
		ev.eventBase = b
		return ev
	case StateChanged:
		ev.eventBase = b
		return ev
	case Estimated:
		ev.eventBase = b
		return ev
	case ConfirmationRequired:
		ev.eventBase = b
		return ev
	case Progress:
		ev.eventBase = b
		return ev
	case Warning:
		ev.eventBase = b
		return ev
	case Paused:
		ev.eventBase = b
		return ev
	case Resumed:
		ev.eventBase = b
		return ev
	case Completed:
		ev.eventBase = b
		return ev
	case Failed:
		ev.eventBase = b
		return ev
	case Cancelled:
		ev.eventBase = b
		return ev
	}
	return e
}

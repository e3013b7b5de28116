package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// RemoteFolder is one directory reported by the remote inventory.
type RemoteFolder struct {
	Path   string `json:"path"`
	Synced bool   `json:"synced"`
}

type FolderListResponse struct {
	Remote  string         `json:"remote"`
	Mode    string         `json:"mode"`
	Folders []RemoteFolder `json:"folders"`
}

func (r *FolderListResponse) Headers() []string {
	return []string{"Folder", "Synced"}
}

func (r *FolderListResponse) Rows() [][]string {
	rows := make([][]string, len(r.Folders))
	for i, f := range r.Folders {
		synced := "No"
		if f.Synced {
			synced = "Yes"
		}
		rows[i] = []string{f.Path, synced}
	}
	return rows
}

func (r *FolderListResponse) EmptyMessage() string {
	return fmt.Sprintf("No folders found on %s:", r.Remote)
}

type RemoteInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Proton bool   `json:"proton"`
}

type RemoteListResponse struct {
	Remotes []RemoteInfo `json:"remotes"`
}

func (r *RemoteListResponse) Headers() []string {
	return []string{"Name", "Type", "ProtonDrive"}
}

func (r *RemoteListResponse) Rows() [][]string {
	rows := make([][]string, len(r.Remotes))
	for i, remote := range r.Remotes {
		typ := remote.Type
		if typ == "" {
			typ = "-"
		}
		proton := ""
		if remote.Proton {
			proton = "yes"
		}
		rows[i] = []string{remote.Name, typ, proton}
	}
	return rows
}

func (r *RemoteListResponse) EmptyMessage() string {
	return "No rclone remotes configured (run 'rclone config')"
}

// SizeEstimateResponse reports what a sync with the current policy would transfer.
type SizeEstimateResponse struct {
	Remote           string    `json:"remote"`
	Mode             string    `json:"mode"`
	TotalBytes       int64     `json:"totalBytes"`
	TotalFiles       int64     `json:"totalFiles"`
	EstimatedAt      time.Time `json:"estimatedAt"`
	ThresholdBytes   int64     `json:"thresholdBytes"`
	ExceedsThreshold bool      `json:"exceedsThreshold"`
}

func (r *SizeEstimateResponse) Headers() []string {
	return []string{"Remote", "Mode", "Files", "Size", "Threshold", "Needs Confirmation"}
}

func (r *SizeEstimateResponse) Rows() [][]string {
	confirm := "No"
	if r.ExceedsThreshold {
		confirm = "Yes"
	}
	return [][]string{{
		r.Remote,
		r.Mode,
		humanize.Comma(r.TotalFiles),
		humanize.IBytes(uint64(r.TotalBytes)),
		humanize.IBytes(uint64(r.ThresholdBytes)),
		confirm,
	}}
}

func (r *SizeEstimateResponse) EmptyMessage() string {
	return "No estimate available"
}

// FilterResponse shows the rclone filter flags derived from the configured policy.
type FilterResponse struct {
	Mode  string   `json:"mode"`
	Flags []string `json:"flags"`
}

func (r *FilterResponse) Headers() []string {
	return []string{"#", "Flag"}
}

func (r *FilterResponse) Rows() [][]string {
	var rows [][]string
	for i := 0; i+1 < len(r.Flags); i += 2 {
		rows = append(rows, []string{fmt.Sprintf("%d", len(rows)+1), r.Flags[i] + " " + quoteIfSpaced(r.Flags[i+1])})
	}
	return rows
}

func (r *FilterResponse) EmptyMessage() string {
	return "No filters (full sync)"
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// RunRecord is the persisted summary of one sync run.
type RunRecord struct {
	ID               string     `json:"id"`
	Remote           string     `json:"remote"`
	LocalRoot        string     `json:"localRoot"`
	Mode             string     `json:"mode"`
	State            string     `json:"state"`
	DryRun           bool       `json:"dryRun"`
	BytesTransferred int64      `json:"bytesTransferred"`
	FilesTransferred int64      `json:"filesTransferred"`
	ErrorCount       int        `json:"errorCount"`
	Reason           string     `json:"reason,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
}

// Duration returns the wall-clock length of the run, zero while still running.
func (r RunRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

type RunHistoryResponse struct {
	Runs []RunRecord `json:"runs"`
}

func (r *RunHistoryResponse) Headers() []string {
	return []string{"ID", "Started", "State", "Files", "Transferred", "Errors", "Duration"}
}

func (r *RunHistoryResponse) Rows() [][]string {
	rows := make([][]string, len(r.Runs))
	for i, run := range r.Runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		duration := "-"
		if d := run.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		rows[i] = []string{
			id,
			humanize.Time(run.StartedAt),
			run.State,
			humanize.Comma(run.FilesTransferred),
			humanize.IBytes(uint64(run.BytesTransferred)),
			fmt.Sprintf("%d", run.ErrorCount),
			duration,
		}
	}
	return rows
}

func (r *RunHistoryResponse) EmptyMessage() string {
	return "No sync runs recorded"
}

// FolderPolicyResponse shows the folder selection after an edit.
type FolderPolicyResponse struct {
	Mode     string   `json:"mode"`
	Included []string `json:"included"`
	Excluded []string `json:"excluded"`
}

func (r *FolderPolicyResponse) Headers() []string {
	return []string{"List", "Folder", "Active"}
}

func (r *FolderPolicyResponse) Rows() [][]string {
	var rows [][]string
	add := func(list string, folders []string) {
		active := "No"
		if r.Mode == list {
			active = "Yes"
		}
		for _, f := range folders {
			rows = append(rows, []string{list, f, active})
		}
	}
	add("include", r.Included)
	add("exclude", r.Excluded)
	return rows
}

func (r *FolderPolicyResponse) EmptyMessage() string {
	return fmt.Sprintf("Mode %s, no folders listed", r.Mode)
}

// RemoteTestResponse reports a successful remote check.
type RemoteTestResponse struct {
	Remote        string `json:"remote"`
	Type          string `json:"type"`
	RcloneVersion string `json:"rcloneVersion"`
	Reachable     bool   `json:"reachable"`
}

func (r *RemoteTestResponse) Headers() []string {
	return []string{"Remote", "Type", "rclone", "Reachable"}
}

func (r *RemoteTestResponse) Rows() [][]string {
	reachable := "No"
	if r.Reachable {
		reachable = "Yes"
	}
	return [][]string{{r.Remote, r.Type, r.RcloneVersion, reachable}}
}

func (r *RemoteTestResponse) EmptyMessage() string {
	return "No remote tested"
}

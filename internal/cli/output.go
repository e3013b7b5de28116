package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dl-alexandre/pdsync/internal/config"
	syncengine "github.com/dl-alexandre/pdsync/internal/sync"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dustin/go-humanize"
)

// eventLine is the JSON-lines shape of one run event.
type eventLine struct {
	Kind  syncengine.EventKind `json:"kind"`
	Event syncengine.Event     `json:"event"`
}

// eventPrinter renders run events as JSON lines or as human-readable text.
type eventPrinter struct {
	out     *config.OutputFormatter
	w       io.Writer
	asJSON  bool
	quiet   bool
	verbose bool
}

func newEventPrinter(out *config.OutputFormatter) *eventPrinter {
	return &eventPrinter{
		out:     out,
		w:       out.Writer(),
		asJSON:  out.Format() == types.OutputFormatJSON,
		quiet:   globalFlags.Quiet,
		verbose: globalFlags.Verbose,
	}
}

func (p *eventPrinter) Print(e syncengine.Event) error {
	if p.asJSON {
		return p.out.WriteJSONLine(eventLine{Kind: e.Kind(), Event: e})
	}
	line := p.text(e)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func (p *eventPrinter) text(e syncengine.Event) string {
	switch ev := e.(type) {
	case syncengine.Started:
		if p.quiet {
			return ""
		}
		return fmt.Sprintf("Syncing %s -> %s (run %s)", ev.Remote, ev.LocalRoot, shortID(ev.RunID))
	case syncengine.StateChanged:
		if !p.verbose {
			return ""
		}
		return fmt.Sprintf("  %s -> %s", ev.From, ev.To)
	case syncengine.Estimated:
		if p.quiet {
			return ""
		}
		if ev.Failed {
			return "Size estimate unavailable, continuing"
		}
		return fmt.Sprintf("Estimated %s in %s files", humanize.IBytes(uint64(ev.Estimate.TotalBytes)), humanize.Comma(ev.Estimate.TotalFiles))
	case syncengine.ConfirmationRequired:
		return fmt.Sprintf("This sync will transfer about %s (threshold %s).",
			humanize.IBytes(uint64(ev.Estimate.TotalBytes)), humanize.IBytes(uint64(ev.ThresholdBytes)))
	case syncengine.Progress:
		if p.quiet {
			return ""
		}
		return progressLine(ev)
	case syncengine.Warning:
		if ev.Path != "" {
			return fmt.Sprintf("warning: %s: %s", ev.Path, ev.Message)
		}
		return "warning: " + ev.Message
	case syncengine.Paused:
		return "Paused"
	case syncengine.Resumed:
		return "Resumed"
	case syncengine.Completed:
		s := ev.Summary
		return fmt.Sprintf("Completed: %s files, %s in %s", humanize.Comma(s.FilesDone), humanize.IBytes(uint64(s.BytesDone)), s.Elapsed.Round(100*time.Millisecond))
	case syncengine.Failed:
		return fmt.Sprintf("Failed [%s]: %s", ev.Code, ev.Reason)
	case syncengine.Cancelled:
		return "Cancelled: " + ev.Reason
	}
	return ""
}

func progressLine(ev syncengine.Progress) string {
	var b strings.Builder
	if ev.Simulated {
		b.WriteString("[dry run] ")
	}
	if ev.BytesTotal > 0 {
		pct := float64(ev.BytesDone) / float64(ev.BytesTotal) * 100
		fmt.Fprintf(&b, "%s / %s (%.0f%%)", humanize.IBytes(uint64(ev.BytesDone)), humanize.IBytes(uint64(ev.BytesTotal)), pct)
	} else {
		b.WriteString(humanize.IBytes(uint64(ev.BytesDone)))
	}
	if ev.FilesTotal > 0 {
		fmt.Fprintf(&b, ", %d/%d files", ev.FilesDone, ev.FilesTotal)
	} else if ev.FilesDone > 0 {
		fmt.Fprintf(&b, ", %d files", ev.FilesDone)
	}
	if ev.Rate > 0 {
		fmt.Fprintf(&b, ", %s/s", humanize.IBytes(uint64(ev.Rate)))
	}
	if ev.ETA > 0 {
		fmt.Fprintf(&b, ", ETA %s", ev.ETA)
	}
	if ev.CurrentFile != "" {
		fmt.Fprintf(&b, "  %s", ev.CurrentFile)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

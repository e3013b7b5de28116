// Package progress turns rclone's textual output into structured updates.
//
// A Parser is fed one line at a time and keeps running totals so every
// update it returns is cumulative for the invocation it belongs to. Lines it
// does not understand are ignored.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind classifies an Update.
type Kind int

const (
	// KindProgress carries cumulative byte and file counters.
	KindProgress Kind = iota
	// KindWarning reports a per-file or per-attempt error that did not stop the run.
	KindWarning
	// KindSummary closes a stats block and carries the totals seen so far.
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindWarning:
		return "warning"
	case KindSummary:
		return "summary"
	}
	return "unknown"
}

// Summary is the state of an invocation at the end of a stats block.
type Summary struct {
	BytesDone  int64         `json:"bytesDone"`
	BytesTotal int64         `json:"bytesTotal"`
	FilesDone  int64         `json:"filesDone"`
	FilesTotal int64         `json:"filesTotal"`
	Errors     int           `json:"errors"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Update is one parsed line.
type Update struct {
	Kind Kind

	BytesDone   int64
	BytesTotal  int64
	FilesDone   int64
	FilesTotal  int64
	CurrentFile string
	Simulated   bool
	Rate        int64         // bytes per second, 0 when unknown
	ETA         time.Duration // -1 when unknown

	Path    string // warnings only
	Message string // warnings only

	Summary Summary // KindSummary only
}

var (
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	timestampPattern = regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)?\s+`)
	levelPattern     = regexp.MustCompile(`^(DEBUG|INFO|NOTICE|WARNING|ERROR|CRITICAL|ALERT|EMERGENCY)\s*:\s*(.*)$`)

	sizeExpr = `([\d.,]+\s*[A-Za-z]*)`

	bytesLinePattern   = regexp.MustCompile(`^Transferred:\s+` + sizeExpr + `\s*/\s*` + sizeExpr + `,\s*(\d+%|-)(?:,\s*` + sizeExpr + `/s)?(?:,\s*ETA\s+(\S+))?`)
	countLinePattern   = regexp.MustCompile(`^Transferred:\s+(\d+)\s*/\s*(\d+),\s*(\d+%|-)\s*$`)
	oneLinePattern     = regexp.MustCompile(`^` + sizeExpr + `\s*/\s*` + sizeExpr + `,\s*(\d+%|-),\s*` + sizeExpr + `/s,\s*ETA\s+(\S+)`)
	errorsLinePattern  = regexp.MustCompile(`^Errors:\s+(\d+)`)
	elapsedLinePattern = regexp.MustCompile(`^Elapsed time:\s+(\S+)`)
	currentFilePattern = regexp.MustCompile(`^\*\s+(.+?):\s*(\d+)%`)

	copiedPattern     = regexp.MustCompile(`^(.+): (?:Multi-thread )?Copied \((?:new|replaced existing|server-side copy)[^)]*\)`)
	dryRunCopyPattern = regexp.MustCompile(`^(.+): Skipped copy as --dry-run is set(?: \(size ([^)]+)\))?`)
	attemptPattern    = regexp.MustCompile(`^Attempt \d+/\d+ failed`)
)

// Parser accumulates totals for one rclone invocation. It is not safe for
// concurrent use.
type Parser struct {
	bytesDone  int64
	bytesTotal int64
	filesDone  int64 // from the "Transferred: a / b" count line
	copied     int64 // from per-file log lines
	filesTotal int64
	errors     int
	current    string
}

// NewParser returns a Parser with zeroed totals.
func NewParser() *Parser {
	return &Parser{}
}

// Parse interprets one line. It returns false for lines carrying nothing of
// interest, including malformed input.
func (p *Parser) Parse(raw string) (Update, bool) {
	line := Clean(raw)
	if line == "" {
		return Update{}, false
	}

	if m := levelPattern.FindStringSubmatch(line); m != nil {
		return p.parseLog(m[1], m[2])
	}

	if m := countLinePattern.FindStringSubmatch(line); m != nil {
		done, err1 := strconv.ParseInt(m[1], 10, 64)
		total, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			return Update{}, false
		}
		p.filesDone = done
		p.filesTotal = total
		return p.progress(-1, -1), true
	}

	if m := bytesLinePattern.FindStringSubmatch(line); m != nil {
		return p.parseBytes(m[1], m[2], m[4], m[5])
	}

	if m := oneLinePattern.FindStringSubmatch(line); m != nil {
		return p.parseBytes(m[1], m[2], m[4], m[5])
	}

	if m := errorsLinePattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > p.errors {
			p.errors = n
		}
		return Update{}, false
	}

	if m := elapsedLinePattern.FindStringSubmatch(line); m != nil {
		elapsed, ok := ParseDuration(m[1])
		if !ok {
			return Update{}, false
		}
		return Update{
			Kind:       KindSummary,
			BytesDone:  p.bytesDone,
			BytesTotal: p.bytesTotal,
			FilesDone:  p.files(),
			FilesTotal: p.filesTotal,
			ETA:        -1,
			Summary:    p.summary(elapsed),
		}, true
	}

	if m := currentFilePattern.FindStringSubmatch(line); m != nil {
		p.current = strings.TrimSpace(m[1])
		return p.progress(-1, -1), true
	}

	return Update{}, false
}

func (p *Parser) parseBytes(doneStr, totalStr, rateStr, etaStr string) (Update, bool) {
	done, ok1 := parseSize(doneStr)
	total, ok2 := parseSize(totalStr)
	if !ok1 || !ok2 {
		return Update{}, false
	}
	p.bytesDone = done
	p.bytesTotal = total

	rate := int64(-1)
	if rateStr != "" {
		if r, ok := parseSize(rateStr); ok {
			rate = r
		}
	}
	eta := time.Duration(-1)
	if etaStr != "" {
		if d, ok := ParseDuration(etaStr); ok {
			eta = d
		}
	}
	return p.progress(rate, eta), true
}

func (p *Parser) parseLog(level, msg string) (Update, bool) {
	msg = strings.TrimSpace(msg)
	switch level {
	case "INFO":
		if m := copiedPattern.FindStringSubmatch(msg); m != nil {
			p.copied++
			p.current = m[1]
			return p.progress(-1, -1), true
		}
		// --stats-one-line logs its stats at INFO
		if m := oneLinePattern.FindStringSubmatch(msg); m != nil {
			return p.parseBytes(m[1], m[2], m[4], m[5])
		}
	case "NOTICE":
		if m := dryRunCopyPattern.FindStringSubmatch(msg); m != nil {
			p.copied++
			p.current = m[1]
			if m[2] != "" {
				if size, ok := parseSize(m[2]); ok {
					p.bytesDone += size
					if p.bytesDone > p.bytesTotal {
						p.bytesTotal = p.bytesDone
					}
				}
			}
			u := p.progress(-1, -1)
			u.Simulated = true
			return u, true
		}
	case "ERROR", "CRITICAL", "ALERT", "EMERGENCY":
		if attemptPattern.MatchString(msg) {
			return Update{Kind: KindWarning, Message: msg, ETA: -1}, true
		}
		path, text := splitObjectMessage(msg)
		if text == "" {
			return Update{}, false
		}
		return Update{Kind: KindWarning, Path: path, Message: text, ETA: -1}, true
	}
	return Update{}, false
}

func (p *Parser) files() int64 {
	if p.copied > p.filesDone {
		return p.copied
	}
	return p.filesDone
}

func (p *Parser) progress(rate int64, eta time.Duration) Update {
	u := Update{
		Kind:        KindProgress,
		BytesDone:   p.bytesDone,
		BytesTotal:  p.bytesTotal,
		FilesDone:   p.files(),
		FilesTotal:  p.filesTotal,
		CurrentFile: p.current,
		ETA:         eta,
	}
	if rate > 0 {
		u.Rate = rate
	}
	if u.FilesTotal < u.FilesDone {
		u.FilesTotal = u.FilesDone
	}
	return u
}

func (p *Parser) summary(elapsed time.Duration) Summary {
	return Summary{
		BytesDone:  p.bytesDone,
		BytesTotal: p.bytesTotal,
		FilesDone:  p.files(),
		FilesTotal: p.filesTotal,
		Errors:     p.errors,
		Elapsed:    elapsed,
	}
}

// Snapshot returns the totals accumulated so far.
func (p *Parser) Snapshot() Summary {
	return p.summary(0)
}

// Clean strips ANSI escapes, rclone's log timestamp and surrounding space.
func Clean(line string) string {
	if strings.IndexByte(line, 0x1b) >= 0 {
		line = ansiPattern.ReplaceAllString(line, "")
	}
	line = strings.TrimSpace(line)
	return timestampPattern.ReplaceAllString(line, "")
}

// splitObjectMessage separates "path: message". Lines without an object
// prefix return an empty path.
func splitObjectMessage(msg string) (string, string) {
	idx := strings.Index(msg, ": ")
	if idx <= 0 {
		return "", msg
	}
	return strings.TrimSpace(msg[:idx]), strings.TrimSpace(msg[idx+2:])
}

// parseSize reads rclone sizes such as "1.234 MiB", "512Ki" or "0 B".
func parseSize(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, false
	}
	if n > uint64(1<<63-1) {
		return 0, false
	}
	return int64(n), true
}

// ParseDuration reads rclone durations ("18s", "1m2.5s", "2d3h4m5s", "-").
func ParseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false
	}
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, false
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return days, true
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return days + d, true
}

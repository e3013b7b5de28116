// Package filter turns a folder selection policy into ordered rclone filter rules.
//
// The same Args value is handed to every rclone invocation of a run (size
// estimate, dry run and transfer) so that what is estimated is exactly what
// is transferred.
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/dl-alexandre/pdsync/internal/utils"
)

// Mode selects which of a policy's path lists is active.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeInclude Mode = "include"
	ModeExclude Mode = "exclude"
)

// ParseMode accepts the canonical names and the selective_* spellings found
// in older config files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "include", "include_only", "selective_include":
		return ModeInclude, nil
	case "exclude", "exclude_only", "selective_exclude":
		return ModeExclude, nil
	}
	return "", utils.Errorf(utils.ErrCodeInvalidPolicy, "unknown sync mode %q (want full, include or exclude)", s)
}

// Policy is the user's choice of which remote folders to mirror.
// Only the list matching Mode is consulted.
type Policy struct {
	Mode          Mode     `json:"mode"`
	IncludedPaths []string `json:"includedPaths,omitempty"`
	ExcludedPaths []string `json:"excludedPaths,omitempty"`
}

// ActivePaths returns the normalised path list Mode selects.
func (p Policy) ActivePaths() ([]string, error) {
	switch p.Mode {
	case ModeFull:
		return nil, nil
	case ModeInclude:
		return NormalizePaths(p.IncludedPaths)
	case ModeExclude:
		return NormalizePaths(p.ExcludedPaths)
	}
	return nil, utils.Errorf(utils.ErrCodeInvalidPolicy, "unknown sync mode %q", p.Mode)
}

// Fingerprint identifies the effective selection. Two policies that build the
// same rules have the same fingerprint.
func (p Policy) Fingerprint() string {
	paths, err := p.ActivePaths()
	if err != nil {
		paths = nil
	}
	h := sha256.New()
	h.Write([]byte(p.Mode))
	for _, pth := range paths {
		h.Write([]byte{0})
		h.Write([]byte(pth))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Action is the verdict of a rule.
type Action int

const (
	Include Action = iota
	Exclude
)

func (a Action) String() string {
	if a == Include {
		return "include"
	}
	return "exclude"
}

// Rule is one ordered filter entry. Pattern uses rclone glob syntax.
type Rule struct {
	Action  Action
	Pattern string
}

func (r Rule) String() string {
	if r.Action == Include {
		return "+ " + r.Pattern
	}
	return "- " + r.Pattern
}

// Args is an ordered rule list. The zero value means "no filtering".
type Args struct {
	rules []Rule
}

// NewArgs wraps an existing rule list.
func NewArgs(rules ...Rule) Args {
	return Args{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rule list.
func (a Args) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

func (a Args) Len() int { return len(a.rules) }

func (a Args) IsEmpty() bool { return len(a.rules) == 0 }

// Flags renders the rules as rclone --filter arguments. --filter keeps include
// and exclude rules in a single first-match list, so order survives.
func (a Args) Flags() []string {
	flags := make([]string, 0, 2*len(a.rules))
	for _, r := range a.rules {
		flags = append(flags, "--filter", r.String())
	}
	return flags
}

// Equal reports whether both lists hold the same rules in the same order.
func (a Args) Equal(b Args) bool {
	if len(a.rules) != len(b.rules) {
		return false
	}
	for i := range a.rules {
		if a.rules[i] != b.rules[i] {
			return false
		}
	}
	return true
}

// Allows evaluates a remote-relative file path with rclone's first-match
// semantics. A path matched by no rule is included.
func (a Args) Allows(relPath string) bool {
	relPath = strings.TrimPrefix(strings.TrimPrefix(relPath, "./"), "/")
	for _, r := range a.rules {
		if matchGlob(r.Pattern, relPath) {
			return r.Action == Include
		}
	}
	return true
}

// Build derives the filter rules for policy.
//
// Include mode yields one "<path>/**" include per folder followed by a single
// catch-all exclude. Exclude mode yields one "<path>/**" exclude per folder.
// Full mode yields no rules. Include and exclude mode reject an empty path set.
func Build(policy Policy) (Args, error) {
	paths, err := policy.ActivePaths()
	if err != nil {
		return Args{}, err
	}

	switch policy.Mode {
	case ModeFull:
		return Args{}, nil
	case ModeInclude:
		if len(paths) == 0 {
			return Args{}, utils.Errorf(utils.ErrCodeInvalidPolicy, "include mode requires at least one folder")
		}
		rules := make([]Rule, 0, len(paths)+1)
		for _, p := range paths {
			rules = append(rules, Rule{Action: Include, Pattern: EscapeGlob(p) + "/**"})
		}
		rules = append(rules, Rule{Action: Exclude, Pattern: "*"})
		return Args{rules: rules}, nil
	default:
		if len(paths) == 0 {
			return Args{}, utils.Errorf(utils.ErrCodeInvalidPolicy, "exclude mode requires at least one folder")
		}
		rules := make([]Rule, 0, len(paths))
		for _, p := range paths {
			rules = append(rules, Rule{Action: Exclude, Pattern: EscapeGlob(p) + "/**"})
		}
		return Args{rules: rules}, nil
	}
}

// NormalizePath trims whitespace and surrounding slashes and cleans the path.
// An empty result is returned as "" with no error; parent references are rejected.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", utils.Errorf(utils.ErrCodeInvalidPolicy, "folder %q escapes the remote root", p)
		}
	}
	return cleaned, nil
}

// NormalizePaths normalises every entry, drops empties and keeps the first
// occurrence of duplicates.
func NormalizePaths(paths []string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		p, err := NormalizePath(raw)
		if err != nil {
			return nil, err
		}
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// EscapeGlob backslash-escapes rclone glob metacharacters so a folder name
// matches literally.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]{}\`) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Describe is a one-line summary used in logs.
func (a Args) Describe() string {
	if a.IsEmpty() {
		return "no filters"
	}
	parts := make([]string, len(a.rules))
	for i, r := range a.rules {
		parts[i] = r.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

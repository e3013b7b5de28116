package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map // pattern -> *regexp.Regexp (nil for invalid patterns)

// matchGlob reports whether relPath matches an rclone glob.
//
// A pattern starting with "/" is anchored at the remote root; any other
// pattern may match at any directory level. "*" and "?" stop at "/",
// "**" does not.
func matchGlob(pattern, relPath string) bool {
	if cached, ok := globCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re != nil && re.MatchString(relPath)
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		globCache.Store(pattern, (*regexp.Regexp)(nil))
		return false
	}
	globCache.Store(pattern, re)
	return re.MatchString(relPath)
}

func globToRegexp(glob string) (*regexp.Regexp, error) {
	var re strings.Builder
	if strings.HasPrefix(glob, "/") {
		re.WriteString("^")
		glob = glob[1:]
	} else {
		re.WriteString("(^|/)")
	}

	runes := []rune(glob)
	inBraces := false
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash in %q", glob)
			}
			i++
			re.WriteString(regexp.QuoteMeta(string(runes[i])))
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				re.WriteString(".*")
				i++
			} else {
				re.WriteString("[^/]*")
			}
		case '?':
			re.WriteString("[^/]")
		case '[':
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == ']' && j > i+1 {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("unclosed character class in %q", glob)
			}
			class := string(runes[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			re.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = end
		case '{':
			if inBraces {
				return nil, fmt.Errorf("nested braces in %q", glob)
			}
			inBraces = true
			re.WriteString("(")
		case '}':
			if !inBraces {
				return nil, fmt.Errorf("unbalanced brace in %q", glob)
			}
			inBraces = false
			re.WriteString(")")
		case ',':
			if inBraces {
				re.WriteString("|")
			} else {
				re.WriteString(",")
			}
		default:
			re.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inBraces {
		return nil, fmt.Errorf("unclosed brace in %q", glob)
	}
	re.WriteString("$")
	return regexp.Compile(re.String())
}

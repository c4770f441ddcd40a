package ops

import (
	"regexp"
	"strings"
)

var safeShellWord = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// Quote returns s as a single shell word, single-quoting it unless it is
// already safe to embed bare in a command line.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

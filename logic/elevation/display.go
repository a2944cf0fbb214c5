package elevation

import (
	"strings"

	"github.com/gurre/jobsession-go/state/principal"
)

// DisplayLine renders the plan for the "Running command" log line. On POSIX
// the full argv is shell-quoted, sudo prefix included. On Windows only the
// caller's args are shown; the encoded payload is noise in a log.
//
//	logger.Info("Running command " + elevation.DisplayLine(plan, principal.POSIX))
func DisplayLine(plan Plan, pl principal.Platform) string {
	if pl == principal.Windows {
		parts := make([]string, len(plan.Args))
		for i, a := range plan.Args {
			parts[i] = windowsQuote(a)
		}
		return strings.Join(parts, " ")
	}
	parts := make([]string, len(plan.Argv))
	for i, a := range plan.Argv {
		parts[i] = ShellQuote(a)
	}
	return strings.Join(parts, " ")
}

// shellSafe are the bytes that never need quoting in a POSIX shell word.
const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@%+=:,./-_"

// ShellQuote quotes s for a POSIX shell. Safe words are returned unchanged;
// anything else is single-quoted with embedded quotes spliced as '"'"'.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.Trim(s, shellSafe) == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// windowsQuote follows the MSVCRT argv rules: backslashes are literal unless
// they precede a double quote, in which case they are doubled.
func windowsQuote(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			slashes++
		case '"':
			// The run of backslashes already written must be doubled, plus
			// one more to escape the quote.
			b.WriteString(strings.Repeat(`\`, slashes+1))
			slashes = 0
		default:
			slashes = 0
		}
		b.WriteByte(c)
	}
	// Trailing backslashes sit before the closing quote.
	b.WriteString(strings.Repeat(`\`, slashes))
	b.WriteByte('"')
	return b.String()
}

// Package colorize adds terminal syntax colouring to disassembly text.
package colorize

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/x/term"
)

const (
	addrColor    = "\033[38;2;79;79;79m"
	bytesColor   = "\033[38;2;110;110;110m"
	commentColor = "\033[38;2;235;194;237m"
	reset        = "\033[0m"
)

// Disabled reports whether colours were switched off through the
// environment.
func Disabled() bool {
	return os.Getenv("NO_COLOR") != "" || os.Getenv("JITDIS_NO_COLOR") != ""
}

// Enabled reports whether w is a terminal that should get colour.
func Enabled(w io.Writer) bool {
	if Disabled() {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func lexer() chroma.Lexer {
	for _, name := range []string{"nasm", "gas"} {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func style() *chroma.Style {
	if s := styles.Get(JitdisDark.Name); s != nil {
		return s
	}
	return styles.Fallback
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// highlight runs chroma over an instruction's mnemonic and operands.
func highlight(code string) string {
	l := lexer()
	if l == nil {
		return code
	}
	it, err := l.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var b strings.Builder
	if err := formatter().Format(&b, style(), it); err != nil {
		return code
	}
	out := b.String()
	if !strings.HasSuffix(code, "\n") {
		out = strings.TrimSuffix(out, "\n")
	}
	return out
}

// linePrefix matches the address and encoding-byte columns of a line.
var linePrefix = regexp.MustCompile(`^(0x[0-9a-f]+:?)(\s+(?:[0-9a-f]{2} )*(?:[0-9a-f]{2})?\s+)`)

// Line colours one disassembly line. Annotation lines (";;") are rendered
// as comments; the address and byte columns are dimmed; the instruction is
// highlighted and its trailing "//" comment rendered as a comment.
func Line(line string) string {
	if Disabled() || line == "" {
		return line
	}
	if strings.HasPrefix(strings.TrimSpace(line), ";;") {
		return commentColor + line + reset
	}
	var b strings.Builder
	rest := line
	if m := linePrefix.FindStringSubmatch(line); m != nil {
		b.WriteString(addrColor + m[1] + reset)
		b.WriteString(bytesColor + m[2] + reset)
		rest = line[len(m[0]):]
	}
	code, comment, found := strings.Cut(rest, " //")
	b.WriteString(highlight(code))
	if found {
		b.WriteString(commentColor + " //" + comment + reset)
	}
	return b.String()
}

// Text colours every line of a multi-line rendering.
func Text(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = Line(l)
	}
	return strings.Join(lines, "\n")
}

// Strip removes ANSI escape sequences.
func Strip(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

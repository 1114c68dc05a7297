package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxToolOutputChars bounds a tool result before it enters the
// conversation.
const DefaultMaxToolOutputChars = 20000

// DefaultMaxToolOutputLines is applied after character truncation.
const DefaultMaxToolOutputLines = 400

// TruncateOutput keeps the head and tail of output and replaces the middle
// with a marker once it exceeds maxChars runes. A non-positive maxChars
// disables truncation.
func TruncateOutput(output string, maxChars int) string {
	n := utf8.RuneCountInString(output)
	if maxChars <= 0 || n <= maxChars {
		return output
	}
	runes := []rune(output)
	head := maxChars / 2
	tail := maxChars - head
	removed := n - maxChars
	return string(runes[:head]) +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"Call the tool again with narrower arguments if you need the missing part.]\n\n", removed) +
		string(runes[n-tail:])
}

// TruncateLines keeps the first and last lines of output so that at most
// maxLines remain.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - maxLines
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// Package debug renders internal structures as indented text for reports
// and command output.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

const indentUnit = "  "

// TreeWriter accumulates indented lines.
type TreeWriter struct {
	sb strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{}
}

func (tw *TreeWriter) String() string {
	return tw.sb.String()
}

// Line writes formatted line at depth.
func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	tw.sb.WriteString(strings.Repeat(indentUnit, depth))
	fmt.Fprintf(&tw.sb, format, args...)
	tw.sb.WriteByte('\n')
}

// TextBlock writes "label: value" with value quoted, so control characters
// and surrounding spaces stay visible.
func (tw *TreeWriter) TextBlock(depth int, label, value string) {
	tw.sb.WriteString(strings.Repeat(indentUnit, depth))
	tw.sb.WriteString(label)
	tw.sb.WriteString(": ")
	tw.sb.WriteString(quote(value))
	tw.sb.WriteByte('\n')
}

func quote(s string) string {
	if s == "" {
		return s
	}
	return strconv.Quote(s)
}

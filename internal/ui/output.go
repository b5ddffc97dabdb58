// Package ui prints human-facing CLI output with color.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

const lineWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	stepColor    = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	blue         = color.New(color.FgBlue).SprintFunc()
	yellow       = color.New(color.FgYellow).SprintFunc()
	green        = color.New(color.FgGreen).SprintFunc()
	red          = color.New(color.FgRed).SprintFunc()
	dim          = color.New(color.Faint).SprintFunc()
)

// Out and ErrOut receive all output. Tests may swap them.
var (
	Out    io.Writer = color.Output
	ErrOut io.Writer = color.Error
)

// center left-pads text so it sits in the middle of width columns.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}

// Header prints a boxed section title.
func Header(title string) {
	line := strings.Repeat("=", lineWidth)
	headerColor.Fprintln(Out, line)
	headerColor.Fprintln(Out, center(title, lineWidth))
	headerColor.Fprintln(Out, line)
}

// Step prints "[n/total] msg".
func Step(n, total int, msg string) {
	stepColor.Fprintf(Out, "[%d/%d] ", n, total)
	fmt.Fprintln(Out, msg)
}

// Success prints a green check line.
func Success(msg string) { successColor.Fprintln(Out, "✓ "+msg) }

// Info prints an indented plain line.
func Info(msg string) { infoColor.Fprintln(Out, "  "+msg) }

// Warning prints a yellow line to the error stream.
func Warning(msg string) { warningColor.Fprintln(ErrOut, "! "+msg) }

// Error prints a red line to the error stream.
func Error(msg string) { errorColor.Fprintln(ErrOut, "✗ "+msg) }

// BlueText colors s blue.
func BlueText(s string) string { return blue(s) }

// YellowText colors s yellow.
func YellowText(s string) string { return yellow(s) }

// Faint renders s dimmed.
func Faint(s string) string { return dim(s) }

// Amount formats minor units, green for inflows and red for outflows.
func Amount(minor int64) string {
	s := normalize.FormatAmount(minor)
	switch {
	case minor > 0:
		return green(s)
	case minor < 0:
		return red(s)
	default:
		return s
	}
}

// Table prints rows as left-aligned columns separated by two spaces. Widths
// are measured without color codes, so cells must be plain text except for
// the last column.
func Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if len(r[i]) > widths[i] {
				widths[i] = len(r[i])
			}
		}
	}

	write := func(cells []string, bold bool) {
		var b strings.Builder
		for i, c := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			if i < len(cells)-1 && i < len(widths) {
				c = c + strings.Repeat(" ", widths[i]-len(c))
			}
			b.WriteString(c)
		}
		if bold {
			headerColor.Fprintln(Out, b.String())
			return
		}
		fmt.Fprintln(Out, b.String())
	}

	write(headers, true)
	for _, r := range rows {
		write(r, false)
	}
}

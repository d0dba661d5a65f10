// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/hcops/lib/conductor"
)

// styles are the few text treatments the commands use outside tables.
// The renderer inspects w, so output to a pipe or buffer is plain.
type styles struct {
	heading lipgloss.Style
	faint   lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	renderer := lipgloss.NewRenderer(w)
	return styles{
		heading: renderer.NewStyle().Bold(true),
		faint:   renderer.NewStyle().Faint(true),
		good:    renderer.NewStyle().Foreground(lipgloss.Color("2")),
		warn:    renderer.NewStyle().Foreground(lipgloss.Color("3")),
		bad:     renderer.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// newTable returns a tabwriter with a header row already written. The
// caller writes tab-separated rows and flushes.
func newTable(w io.Writer, columns ...string) *tabwriter.Writer {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(columns, "\t"))
	return writer
}

func row(w io.Writer, cells ...string) {
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func formatBytes(size uint64) string {
	return humanize.IBytes(size)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02T15:04:05")
}

// formatRelative renders t relative to now, e.g. "3 minutes ago" or
// "2 hours from now".
func formatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatArc(arc *conductor.Arc) string {
	if arc == nil {
		return "empty"
	}
	if arc.Start == 0 && arc.End == ^uint32(0) {
		return "full"
	}
	return fmt.Sprintf("%d..%d", arc.Start, arc.End)
}

func formatPorts(ports []uint16) string {
	if len(ports) == 0 {
		return "-"
	}
	text := make([]string, len(ports))
	for i, port := range ports {
		text[i] = fmt.Sprint(port)
	}
	return strings.Join(text, ",")
}

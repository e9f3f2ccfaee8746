package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const defaultWidth = 100

// table renders fixed columns; the last column absorbs the remaining width.
type table struct {
	headers []string
	rows    [][]string
	width   int
}

func newTable(headers ...string) *table {
	return &table{headers: headers, width: terminalWidth()}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

func (t *table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i := range widths {
			if i < len(row) {
				if w := runewidth.StringWidth(row[i]); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	last := len(widths) - 1
	if last < 0 {
		return widths
	}
	used := 0
	for _, w := range widths[:last] {
		used += w + 2
	}
	if room := t.width - used; room < widths[last] {
		widths[last] = max(room, 8)
	}
	return widths
}

func (t *table) render(w io.Writer) {
	widths := t.columnWidths()
	line := func(cells []string) {
		parts := make([]string, len(widths))
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			cell = runewidth.Truncate(cell, width, "…")
			if i < len(widths)-1 {
				cell = runewidth.FillRight(cell, width)
			}
			parts[i] = cell
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(t.headers)
	for _, row := range t.rows {
		line(row)
	}
}

// formatDuration renders seconds as "1h05m" or "4m10s".
func formatDuration(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, secs%3600/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

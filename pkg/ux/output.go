// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders aleutian-lsp output for terminals and pipes.
//
// Every function writes to an explicit io.Writer. With PersonalityMachine
// the output is plain text with no ANSI sequences and no icons, so it can
// be parsed by scripts.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorInfo    = lipgloss.Color("#20B9B4")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Info:    lipgloss.NewStyle().Foreground(ColorInfo),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Render returns the icon in its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title writes a heading. Machine output skips it.
func Title(w io.Writer, text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		return
	case PersonalityMinimal:
		fmt.Fprintln(w, text)
	default:
		fmt.Fprintln(w, Styles.Title.Render(text))
	}
}

// Success writes a success line.
func Success(w io.Writer, text string) {
	statusLine(w, IconSuccess, "OK", Styles.Success, text)
}

// Warning writes a warning line.
func Warning(w io.Writer, text string) {
	statusLine(w, IconWarning, "WARN", Styles.Warning, text)
}

// Error writes an error line.
func Error(w io.Writer, text string) {
	statusLine(w, IconError, "ERROR", Styles.Error, text)
}

func statusLine(w io.Writer, icon Icon, prefix string, style lipgloss.Style, text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		fmt.Fprintf(w, "%s: %s\n", prefix, text)
	case PersonalityMinimal:
		fmt.Fprintf(w, "%s %s\n", icon, text)
	default:
		fmt.Fprintf(w, "%s %s\n", icon.Render(), style.Render(text))
	}
}

// Box writes content inside a rounded border with a title line.
func Box(w io.Writer, title, content string) {
	if GetPersonalityLevel() == PersonalityMachine {
		fmt.Fprintf(w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Table writes rows as aligned columns. The header is bold unless the
// output is for machines, where columns are tab separated.
func Table(w io.Writer, header []string, rows [][]string) {
	if GetPersonalityLevel() == PersonalityMachine {
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range min(len(row), len(widths)) {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil && ShouldShowColors() {
				cell = style.Render(cell)
			}
			parts[i] = cell
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, line(header, &Styles.Bold))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, nil))
	}
}

// HighlightReport colors a diagnostics report by section. Section headers
// are recognized by their leading word: Errors, Warnings, Information,
// and Hints. Other lines pass through unchanged.
func HighlightReport(report string) string {
	if !ShouldShowColors() {
		return report
	}
	lines := strings.Split(report, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Diagnostics:"), line == "No diagnostics.":
			lines[i] = Styles.Title.Render(line)
		case strings.HasPrefix(line, "Errors ("):
			lines[i] = Styles.Error.Bold(true).Render(line)
		case strings.HasPrefix(line, "Warnings ("):
			lines[i] = Styles.Warning.Bold(true).Render(line)
		case strings.HasPrefix(line, "Information ("), strings.HasPrefix(line, "Hints ("):
			lines[i] = Styles.Info.Render(line)
		case strings.HasPrefix(line, "    "):
			lines[i] = Styles.Muted.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// StateBadge renders a server state name with a status icon.
func StateBadge(state string) string {
	icon := IconPending
	switch state {
	case "ready":
		icon = IconSuccess
	case "error":
		icon = IconError
	case "disabled", "shutdown":
		icon = IconWarning
	}
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		return state
	case PersonalityMinimal:
		return string(icon) + " " + state
	default:
		return icon.Render() + " " + state
	}
}

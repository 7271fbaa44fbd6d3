// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
)

// Brand colors.
const (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorSlate = lipgloss.Color("#2C4A54")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
)

type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

// eventPrinter writes one line per progress event. Styling is only
// applied when the destination is a terminal.
type eventPrinter struct {
	w      io.Writer
	styled bool
	s      styles
}

func newEventPrinter(w io.Writer) *eventPrinter {
	p := &eventPrinter{w: w, styled: isTerminal(w)}
	if p.styled {
		r := lipgloss.NewRenderer(w)
		p.s = styles{
			title:   r.NewStyle().Bold(true).Foreground(colorTeal),
			muted:   r.NewStyle().Foreground(colorSlate),
			success: r.NewStyle().Foreground(colorTeal),
			warning: r.NewStyle().Foreground(colorGold),
			err:     r.NewStyle().Foreground(colorRed).Bold(true),
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *eventPrinter) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Print writes e. Progress events are printed only when the integer
// percentage changes, so the output stays readable at high concurrency.
func (p *eventPrinter) Print(e progress.Event, lastPercent *int) {
	var line string
	switch e := e.(type) {
	case progress.Progress:
		pct := int(e.Percent)
		if pct == *lastPercent {
			return
		}
		*lastPercent = pct
		line = p.render(p.s.muted, fmt.Sprintf("[%3d%%] %d/%d files, %d/%d dirs",
			pct, e.Stats.ProcessedFiles, e.Stats.TotalFiles, e.Stats.ProcessedDirs, e.Stats.TotalDirs))
	case progress.FileStarted:
		line = p.render(p.s.muted, "  ○ "+e.Path)
	case progress.FileCompleted:
		line = p.render(p.s.success, "  ✓ ") + e.Path
	case progress.DirStarted:
		line = p.render(p.s.muted, "  ○ "+displayDir(e.Path)+"/")
	case progress.DirCompleted:
		line = p.render(p.s.success, "  ✓ ") + displayDir(e.Path) + "/"
	case progress.Completed:
		line = p.render(p.s.title, "Documentation complete") + p.summary(e.Stats)
	case progress.Error:
		line = p.render(p.s.err, "✗ Failed: ") + e.Message
	case progress.Cancelled:
		line = p.render(p.s.warning, "⚠ Cancelled")
	default:
		return
	}
	fmt.Fprintln(p.w, line)
}

func (p *eventPrinter) summary(st progress.Stats) string {
	s := fmt.Sprintf(": %d files, %d dirs", st.ProcessedFiles, st.ProcessedDirs)
	if st.SkippedCount > 0 {
		s += fmt.Sprintf(", %d skipped", st.SkippedCount)
	}
	if st.FailedCount > 0 {
		s += fmt.Sprintf(", %d failed", st.FailedCount)
	}
	if ms, ok := st.ElapsedMillis(); ok {
		s += fmt.Sprintf(" in %s", (time.Duration(ms) * time.Millisecond).Round(time.Second/10))
	}
	return s
}

func displayDir(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}

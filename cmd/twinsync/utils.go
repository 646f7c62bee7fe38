package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/twinsync/internal/sync"
)

var (
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold      = lipgloss.NewStyle().Bold(true)
	labelCell = lipgloss.NewStyle().Width(14)
)

func row(w io.Writer, label string, value any) {
	fmt.Fprintln(w, labelCell.Render(label)+fmt.Sprint(value))
}

func actionStyle(a sync.Action) lipgloss.Style {
	switch a.(type) {
	case sync.CopyToRight, sync.CopyToLeft, sync.CreateDirLeft, sync.CreateDirRight:
		return green
	case sync.DeleteLeft, sync.DeleteRight:
		return red
	case sync.Conflict:
		return yellow
	default:
		return gray
	}
}

// printPlan shows the analysis totals and, unless all is false, every
// action that changes something or needs attention.
func printPlan(w io.Writer, an *sync.Analysis, all bool) {
	d := an.Diff

	fmt.Fprintln(w, bold.Render("Plan"))
	row(w, "Left", fmt.Sprintf("%d entries, %s", len(an.Left.Entries), humanize.Bytes(uint64(an.Left.TotalSize()))))
	row(w, "Right", fmt.Sprintf("%d entries, %s", len(an.Right.Entries), humanize.Bytes(uint64(an.Right.TotalSize()))))
	row(w, "Copy", fmt.Sprintf("%d (%s)", d.FilesToCopy, humanize.Bytes(uint64(d.BytesToTransfer))))
	row(w, "Delete", d.FilesToDelete)
	row(w, "Create dirs", d.DirsToCreate)
	row(w, "Conflicts", d.Conflicts)
	row(w, "Skipped", d.Skipped)

	for _, warning := range an.Warnings {
		fmt.Fprintln(w, yellow.Render("warning: ")+warning)
	}

	if len(d.Actions) > 0 {
		fmt.Fprintln(w)
	}
	for _, a := range d.Actions {
		if _, skip := a.(sync.Skip); skip && !all {
			continue
		}
		fmt.Fprintln(w, "  "+actionStyle(a).Render(sync.Describe(a)))
	}
}

func printReport(w io.Writer, report *sync.Report) {
	res := report.Result

	fmt.Fprintln(w)
	title := green.Render("Sync complete")
	switch {
	case res.Cancelled:
		title = yellow.Render("Sync cancelled")
	case len(res.Failed) > 0:
		title = red.Render("Sync finished with errors")
	}
	fmt.Fprintln(w, bold.Render(title))

	row(w, "Completed", len(res.Completed))
	row(w, "Failed", len(res.Failed))
	row(w, "Skipped", len(res.Skipped))
	row(w, "Transferred", humanize.Bytes(uint64(res.BytesCopied)))
	row(w, "Took", report.Duration.Round(time.Millisecond))
	row(w, "Run", gray.Render(report.RunID))

	for _, f := range res.Failed {
		fmt.Fprintln(w, "  "+red.Render(f.Error()))
	}
	for _, p := range report.LogPaths {
		row(w, "Log", gray.Render(p))
	}
}

func progressPrinter(w io.Writer) sync.ProgressFunc {
	return func(p sync.Progress) {
		path := p.Path
		if len(path) > 60 {
			path = "..." + path[len(path)-57:]
		}
		fmt.Fprintf(w, "%s %s %s\n",
			cyan.Render(fmt.Sprintf("[%d/%d]", p.Current, p.Total)),
			gray.Render(strings.ToLower(string(p.Phase))),
			path,
		)
	}
}

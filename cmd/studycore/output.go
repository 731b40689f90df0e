package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/at-ishikawa/studycore/internal/generation"
	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/progress"
	"github.com/at-ishikawa/studycore/internal/srs"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	boldColor    = color.New(color.Bold)
)

func printSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintln(w, msg)
}

func printItem(w io.Writer, item *learning.Item) {
	_, _ = boldColor.Fprintf(w, "%s\n", item.ID)
	_, _ = fmt.Fprintf(w, "  front: %s\n  back:  %s\n", item.Front, item.Back)
	if item.Topic != "" {
		_, _ = fmt.Fprintf(w, "  topic: %s\n", item.Topic)
	}
	_, _ = fmt.Fprintf(w, "  status: %s, next review %s (interval %s, ease %.2f)\n",
		item.Status,
		item.NextReviewDate.Format(time.DateOnly),
		srs.FormatInterval(item.IntervalDays),
		item.EaseFactor)
}

func printPreview(w io.Writer, preview map[srs.Button]string) {
	for _, b := range srs.Buttons {
		_, _ = fmt.Fprintf(w, "  %d %-5s %s\n", int(b), b, preview[b])
	}
}

func printStats(w io.Writer, stats learning.Stats) {
	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	_, _ = boldColor.Fprintf(w, "%d items, %d due today\n", stats.Total, stats.DueToday)
	for _, status := range statuses {
		_, _ = fmt.Fprintf(w, "  %-9s %d\n", status, stats.ByStatus[srs.Status(status)])
	}
}

func printProgress(w io.Writer, p generation.Progress) {
	line := fmt.Sprintf("[%d/%d] completed, %d failed", p.CompletedCount, p.TotalCount, p.FailedCount)
	if p.CurrentTopic != "" {
		line += ", working on " + p.CurrentTopic
	}
	switch {
	case p.Error:
		_, _ = errorColor.Fprintf(w, "%s: task failed: %s\n", line, p.ErrorMessage)
	case p.InFlight:
		_, _ = warnColor.Fprintf(w, "%s: another caller is generating\n", line)
	case p.Done:
		_, _ = successColor.Fprintf(w, "%s: done, collection %s\n", line, p.CollectionID)
	default:
		_, _ = fmt.Fprintln(w, line)
	}
}

func printCancel(w io.Writer, result generation.CancelResult) {
	if result.Deleted {
		_, _ = warnColor.Fprintf(w, "job %s cancelled, nothing was generated so collection %s was deleted\n", result.JobID, result.CollectionID)
		return
	}
	_, _ = successColor.Fprintf(w, "job %s cancelled, kept %d item(s) in collection %s\n", result.JobID, result.Retained, result.CollectionID)
}

func printEvent(w io.Writer, e progress.Event) {
	line := fmt.Sprintf("%s %s %s [%d/%d] failed=%d", e.At.Format(time.TimeOnly), e.JobID, e.Kind, e.Completed, e.Total, e.Failed)
	if e.CurrentTopic != "" {
		line += " topic=" + e.CurrentTopic
	}
	switch {
	case e.Error:
		_, _ = errorColor.Fprintln(w, line)
	case e.Final():
		_, _ = successColor.Fprintln(w, line)
	default:
		_, _ = fmt.Fprintln(w, line)
	}
}

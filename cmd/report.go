package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func statusColor(status domain.OutcomeStatus) *color.Color {
	switch status {
	case domain.OutcomePublished:
		return green
	case domain.OutcomePlanned:
		return cyan
	case domain.OutcomeFailed:
		return red
	default:
		return yellow
	}
}

// printReport renders the run as a table followed by a one-line summary
func printReport(w io.Writer, report *domain.SyncReport) error {
	mode := "sync"
	if report.DryRun {
		mode = "plan"
	}
	cyan.Fprintf(w, "%s %s (run %s)\n", mode, report.Image, report.RunID)
	if report.RunFailure != domain.FailureKindNone {
		red.Fprintf(w, "run aborted: %s\n", report.RunError)
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Tag", "Status", "Commit", "Reason")
	rows := append([]domain.Outcome{}, report.Releases...)
	if report.Latest != nil {
		rows = append(rows, *report.Latest)
	}
	for _, o := range rows {
		if err := table.Append([]string{
			o.Tag,
			statusColor(o.Status).Sprint(string(o.Status)),
			o.Commit.Short(),
			reason(o),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	counts := report.Counts()
	fmt.Fprintf(w, "%d skipped, %d published, %d planned, %d failed in %s\n",
		counts[domain.OutcomeSkipped],
		counts[domain.OutcomePublished],
		counts[domain.OutcomePlanned],
		counts[domain.OutcomeFailed],
		report.Duration().Round(time.Millisecond),
	)
	return nil
}

func reason(o domain.Outcome) string {
	if o.FailureKind == domain.FailureKindNone {
		return ""
	}
	return fmt.Sprintf("%s: %s", o.FailureKind, o.Reason)
}

// printCIOutput writes key=value lines suitable for GITHUB_OUTPUT
func printCIOutput(w io.Writer, report *domain.SyncReport) {
	counts := report.Counts()
	fmt.Fprintf(w, "run_id=%s\n", report.RunID)
	fmt.Fprintf(w, "dry_run=%t\n", report.DryRun)
	fmt.Fprintf(w, "run_failure=%s\n", report.RunFailure)
	fmt.Fprintf(w, "skipped=%d\n", counts[domain.OutcomeSkipped])
	fmt.Fprintf(w, "published=%d\n", counts[domain.OutcomePublished])
	fmt.Fprintf(w, "planned=%d\n", counts[domain.OutcomePlanned])
	fmt.Fprintf(w, "failed=%d\n", counts[domain.OutcomeFailed])
	fmt.Fprintf(w, "published_tags=%s\n", tagsWithStatus(report, domain.OutcomePublished))
	fmt.Fprintf(w, "planned_tags=%s\n", tagsWithStatus(report, domain.OutcomePlanned))
	fmt.Fprintf(w, "failed_tags=%s\n", tagsWithStatus(report, domain.OutcomeFailed))
	if report.Latest != nil {
		fmt.Fprintf(w, "latest_status=%s\n", report.Latest.Status)
		fmt.Fprintf(w, "latest_commit=%s\n", report.Latest.Commit)
	}
	fmt.Fprintf(w, "has_failures=%t\n", report.HasFailures())
}

func tagsWithStatus(report *domain.SyncReport, status domain.OutcomeStatus) string {
	var tags []string
	for _, o := range report.Releases {
		if o.Status == status {
			tags = append(tags, o.Tag)
		}
	}
	return strings.Join(tags, ",")
}

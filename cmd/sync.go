package cmd

import (
	"errors"
	"fmt"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrSyncFailures is returned when a run completed but recorded failed releases.
var ErrSyncFailures = errors.New("sync finished with failures")

type syncFlags struct {
	dryRun     bool
	ciOutput   bool
	reportFile string
	workers    int
}

// NewSyncCmd creates the sync command
func NewSyncCmd(load containerLoader) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Build and push every release missing from the registry",
		Long: `Mirror upstream releases into the image registry.

Each run:
- Lists the upstream releases
- Probes the registry for every release tag
- Resolves missing releases to their exact commit
- Builds and pushes the missing images one at a time
- Rebuilds "latest" from the default branch head

Images already present in the registry are never rebuilt, so repeated runs only
publish new releases and refresh "latest".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("workers") {
				flags.workers = 0
			}
			return runSync(cmd, load, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Probe and resolve releases without building")
	addRunFlags(cmd, &flags)
	return cmd
}

func addRunFlags(cmd *cobra.Command, flags *syncFlags) {
	cmd.Flags().BoolVar(&flags.ciOutput, "ci-output", false, "Output in CI-friendly format")
	cmd.Flags().StringVar(&flags.reportFile, "report-file", "", "Write the JSON run report to this path")
	cmd.Flags().IntVar(&flags.workers, "workers", orchestrator.DefaultWorkers, "Concurrent release probes")
}

func runSync(cmd *cobra.Command, load containerLoader, flags syncFlags) error {
	ctx := cmd.Context()
	c, err := load(ctx)
	if err != nil {
		return err
	}
	defer c.close()
	workers := c.cfg.Workers
	if flags.workers != 0 {
		workers = flags.workers
	}
	report, runErr := c.orchestrator().Execute(ctx, orchestrator.SyncConfig{
		DryRun:    flags.dryRun,
		Workers:   workers,
		LatestTag: c.cfg.LatestTag,
	})
	if report == nil {
		return runErr
	}
	out := cmd.OutOrStdout()
	if flags.ciOutput {
		printCIOutput(out, report)
	} else if err := printReport(out, report); err != nil {
		c.logger.Warn("failed to render report", zap.Error(err))
	}
	reportFile := c.cfg.ReportFile
	if flags.reportFile != "" {
		reportFile = flags.reportFile
	}
	if reportFile != "" {
		if err := c.reportRepository(reportFile).Save(ctx, report); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
	}
	if err := c.metrics.Push(ctx, c.cfg.PushgatewayURL, ""); err != nil {
		c.logger.Warn("failed to push metrics", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}
	if report.HasFailures() {
		return fmt.Errorf("%w: %d failed", ErrSyncFailures, countFailures(report))
	}
	return nil
}

func countFailures(report *domain.SyncReport) int {
	failed := report.Counts()[domain.OutcomeFailed]
	if report.Latest != nil && report.Latest.Status == domain.OutcomeFailed {
		failed++
	}
	return failed
}

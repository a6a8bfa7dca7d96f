package cmd

import (
	"github.com/spf13/cobra"
)

// NewPlanCmd creates the plan command, a sync that never builds
func NewPlanCmd(load containerLoader) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which releases a sync would build",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("workers") {
				flags.workers = 0
			}
			flags.dryRun = true
			return runSync(cmd, load, flags)
		},
	}
	addRunFlags(cmd, &flags)
	return cmd
}

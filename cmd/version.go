package cmd

import (
	"fmt"
	"runtime"

	"github.com/compozy/releasemirror/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "release-mirror %s\n", version.Summary())
			fmt.Fprintf(out, "Commit:\t%s\n", orUnknown(version.CommitHash))
			fmt.Fprintf(out, "Built:\t%s\n", orUnknown(version.BuildDate))
			fmt.Fprintf(out, "Go:\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

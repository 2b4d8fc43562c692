package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Version information set by build flags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// toolVersion is the version plugman engines are checked against.
// Unversioned builds report none, leaving plugman engines unchecked.
func toolVersion() string {
	v := strings.TrimPrefix(version, "v")
	if v == "dev" {
		return ""
	}
	return v
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(c.out, "plugman %s\n", version)
			_, _ = fmt.Fprintf(c.out, "  commit: %s\n", commit)
			_, _ = fmt.Fprintf(c.out, "  built:  %s\n", date)
		},
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangleward/tangle/version"
)

// VersionCmd displays the version of tangle being run.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for the tangle peer binary.
var RootCmd = &cobra.Command{
	Use:              "tangle",
	Short:            "tangle ledger peer",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(
		NewKeygenCmd(),
		NewRunCmd(),
		VersionCmd,
	)
}

package commands

import (
	"github.com/handreceipt/ledger/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for the ledger
var RootCmd = &cobra.Command{
	Use:              "ledger",
	Short:            "hand-receipt ledger node",
	TraverseChildren: true,
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HTF1125/investment-x-sub000/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		common.LoadVersionFromFile()
		info := common.GetVersionInfo()
		fmt.Printf("Investment-X version %s\n", common.GetFullVersion())
		fmt.Printf("Go: %s\n", info.GoVersion)
	},
}

package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crmflow",
	Short: "crmflow workflow automation engine",
	Long:  `crmflow runs tenant-scoped automation rules against CRM events.`,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

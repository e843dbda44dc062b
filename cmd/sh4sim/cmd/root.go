// Package cmd provides the command-line interface for sh4sim.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "sh4sim",
	Short: "sh4sim runs SH4 guest programs on a hybrid dispatch engine.",
	Long: `sh4sim runs SH4 guest programs on a hybrid dispatch engine ` +
		`that interprets basic blocks today and can adopt compiled blocks ` +
		`one at a time as a translation backend matures.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	// A .env file can provide defaults such as SH4SIM_MONITOR_PORT.
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

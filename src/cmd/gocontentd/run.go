package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gitlab.com/mipimipi/cdsengine/src/internal/appserver"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gocontentd service",
	Long:  "Run the gocontentd content directory core",
	Run: func(cmd *cobra.Command, args []string) {
		if err := appserver.Run(Version); err != nil {
			fmt.Printf("gocontentd cannot be run: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

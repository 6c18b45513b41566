package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"gitlab.com/mipimipi/cdsengine/src/internal/appserver"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gocontentd queue and autoscan counts",
	Long:  "Report task-queue depth and active scan counts as configured",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := appserver.Status()
		if err != nil {
			fmt.Printf("gocontentd status unavailable: %v\n", err)
			os.Exit(1)
		}
		p := message.NewPrinter(language.English)
		p.Printf("    %d queued tasks\n", st.QueuedTasks)
		p.Printf("    %d timed autoscans\n", st.TimedAutoscans)
		p.Printf("    %d inotify autoscans\n", st.InotifyAutoscans)
		p.Printf("    %d online services\n", st.OnlineServices)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

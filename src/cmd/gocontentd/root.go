package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var preamble = `gocontentd ` + Version + `

gocontentd is a UPnP/DLNA content directory core: it watches filesystem
trees, imports media into a content directory model and keeps it in sync
via timed scans and inotify. It has no UPnP device/SOAP layer of its own;
that is left to a separate front end.`

var rootCmd = &cobra.Command{
	Use:     "gocontentd",
	Short:   "gocontentd content directory core",
	Long:    preamble,
	Version: Version,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

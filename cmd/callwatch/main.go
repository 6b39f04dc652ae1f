package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "callwatch",
	Short:        "Watch a live-calls dashboard and forward finished call recordings",
	SilenceUsage: true,
	RunE:         runMonitor,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

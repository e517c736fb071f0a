package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coderoom",
	Short: "Session-scoped log relay for coding interview rooms",
	Long: `coderoom runs interview rooms: each room launches a containerized runner
from a GitHub repository and relays its output to viewers, live over
WebSocket and durably through a per-room fallback feed.`,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

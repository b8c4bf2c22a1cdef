package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "presenced",
	Short: "presenced tracks which sessions are online",
	Long: `presenced keeps session records in a durable store, mirrors online sessions
into a presence cache and raises an offline event when a session times out or
is destroyed.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func init() {
	// A missing .env is fine since the environment may be set directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.AddCommand(replayCmd)
}

var rootCmd = &cobra.Command{
	Use:  "fieldsim",
	Long: `Simulator shell for the fieldtrack session engine. Replays recorded fix streams against a local store.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

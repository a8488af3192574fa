// Axon is a controlled-execution engine that sits between an LLM planner
// and the side-effecting tools it proposes. Every tool call passes through
// risk gating, permission checks, and an approval gateway before it runs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "axon",
	Short: "Axon - controlled execution engine for LLM agents",
	Long: `Axon routes every action an LLM proposes through risk gating,
a permission ledger, and a human approval gateway before execution.
Running axon without a subcommand starts the server.`,
	RunE: runServe,
}

func init() {
	// Load .env file if present (API keys, DSNs).
	_ = godotenv.Load()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

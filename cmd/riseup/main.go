// Package main is the Rise Up entry point: an HTTP API (serve) and an
// interactive terminal chat (chat) over the same delivery engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "riseup",
	Short: "Rise Up - an AI companion for emotional support and motivation",
	Long: `Rise Up streams replies from Gemini and answers locally when the model
cannot be reached. Run "riseup serve" for the HTTP API or "riseup chat" to
talk from the terminal.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Rise Up in the terminal",
	RunE:  runChat,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file [default: ./riseup.yaml if present]")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug|info|warn|error)")

	chatCmd.Flags().String("session", "", "Resume an existing session instead of starting a new one")
	chatCmd.Flags().String("user", "local", "User id the session belongs to")

	rootCmd.AddCommand(serveCmd, chatCmd)
}

// Command server runs the code-agent service: an HTTP API streaming CodeAct
// agent sessions over SSE, with an optional MCP stdio surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "code-agent",
	Short: "Streaming CodeAct agent server",
	Long: `code-agent mediates between clients and a code-executing LLM agent.
It drives the model's reasoning loop, runs the code the model writes in a
sandbox, and streams every step to the client over server-sent events.`,
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP streaming server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP stdio server",
	Long:  "Expose chat_send, chat_events, chat_cancel, and chat_close as MCP tools over stdio.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

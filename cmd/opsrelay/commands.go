package main

import (
	"github.com/spf13/cobra"
)

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opsrelay",
		Short: "opsrelay - host operations service and chat orchestrator",
		Long: `opsrelay exposes typed file, search, and command operations over an
envelope protocol (unary HTTP, NDJSON, SSE, WebSocket) and orchestrates
tool-using chat turns against an Ollama-compatible model endpoint.`,
		Version:      buildVersion(),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeOpsCmd(),
		buildServeChatCmd(),
		buildServeCmd(),
	)
	return rootCmd
}

func buildServeOpsCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve-ops",
		Short: "Start the operations service",
		Long: `Start the operations service: file, search, and command operations on
all four transports, plus the discovery catalog, health, and metrics
endpoints. Graceful shutdown on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeOps(cmd.Context(), configPath, addr, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildServeChatCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve-chat",
		Short: "Start the chat orchestrator",
		Long: `Start the chat orchestrator: per-turn tool-calling loop over the model
endpoint and the operations service, with conversation history kept in
process memory. Graceful shutdown on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeChat(cmd.Context(), configPath, addr, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start both services in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeBoth(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/internal/app"
	"github.com/forest6511/credsafe/internal/mcp"
	"github.com/forest6511/credsafe/pkg/audit"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

Agents never receive plaintext secrets. Available tools:
  - vault_list:       List entries with id, type and a non-secret summary
  - vault_get_masked: Get one entry with secret fields masked (e.g. "****WXYZ")

Authentication:
  Biometric unlock is tried first when the account uses it. Otherwise set
  CREDSAFE_PASSWORD; it is read once and cleared from the environment.

Restrict the exposed entry types with mcp.allowed_types in config.yaml.

Example MCP client configuration:
  {
    "mcpServers": {
      "credsafe": {
        "type": "stdio",
        "command": "/path/to/credsafe",
        "args": ["mcp-server"],
        "env": {
          "CREDSAFE_PASSWORD": "your-password"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{Source: audit.SourceMCP, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	mcp.Version = version
	server, err := mcp.NewServer(ctx, a, nil)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// Package mcp implements the MCP (Model Context Protocol) server for credsafe.
// Agents can see which entries exist and a masked form of their secrets, never
// the plaintext.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/credsafe/internal/app"
	"github.com/forest6511/credsafe/pkg/auth"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/vault"
)

// EnvPassword is read once at startup and then removed from the environment.
const EnvPassword = "CREDSAFE_PASSWORD"

// Version is reported to MCP clients.
var Version = "dev"

var (
	ErrNoAccount  = errors.New("mcp: no account has been set up")
	ErrNoPassword = errors.New("mcp: no password provided: set " + EnvPassword + " or enable biometric unlock")
)

// Server is the credsafe MCP server.
type Server struct {
	server  *mcp.Server
	app     *app.App
	vault   *vault.Store
	allowed map[entry.Type]bool
	logger  *slog.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Password unlocks the vault. If empty, EnvPassword is consulted after the
	// biometric fast path has been tried.
	Password string

	// AllowedTypes limits the entry types exposed. Nil means the config's
	// mcp.allowed_types.
	AllowedTypes []entry.Type
}

// NewServer unlocks the vault behind a and registers the tools. a must be
// freshly opened; its Gate is started here.
func NewServer(ctx context.Context, a *app.App, opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	state, err := a.Gate.Start(ctx)
	if err != nil {
		return nil, err
	}
	switch state {
	case auth.AwaitingSetup:
		return nil, ErrNoAccount
	case auth.AwaitingLogin:
		password := opts.Password
		if password == "" {
			password = os.Getenv(EnvPassword)
			os.Unsetenv(EnvPassword)
		}
		if password == "" {
			return nil, ErrNoPassword
		}
		if err := a.Gate.Login(ctx, password); err != nil {
			return nil, fmt.Errorf("failed to unlock vault: %w", err)
		}
	}

	v, err := a.Vault()
	if err != nil {
		return nil, err
	}
	if err := a.CorruptData(); err != nil {
		a.Logger.Warn("serving an empty vault, stored data is unreadable", "error", err)
	}

	types := opts.AllowedTypes
	if types == nil {
		types = a.Config.AllowedTypes()
	}
	allowed := make(map[entry.Type]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "credsafe",
			Version: Version,
		}, nil),
		app:     a,
		vault:   v,
		allowed: allowed,
		logger:  a.Logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_list",
		Description: "List vault entries with their id, type, position and a non-secret summary. Does NOT return passwords or seed words.",
	}, s.handleVaultList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_get_masked",
		Description: "Get one entry by id with its secret fields masked (e.g. '****WXYZ'). Seed phrase words are never revealed.",
	}, s.handleVaultGetMasked)
}

// Run serves the MCP protocol over stdio until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "types", len(s.allowed))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Package mcp exposes the pack scorer and the command gate as MCP tools
// over stdio, for agents that integrate via the Model Context Protocol
// instead of the hook socket.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/config"
	"github.com/pkondratev/packwatch/internal/evaluator"
	"github.com/pkondratev/packwatch/internal/gate"
	"github.com/pkondratev/packwatch/internal/pack"
	"github.com/pkondratev/packwatch/internal/relevance"
	"github.com/pkondratev/packwatch/internal/rules"
)

// Server wraps the MCP SDK server around the scoring and gating components.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       *config.Config
	store     *rules.Store
	gate      *gate.Gate
	scorer    *relevance.Scorer
	packs     *pack.Cache
}

// New creates an MCP server with loaded rules and a warm pack cache.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := rules.NewStore(cfg.AllowlistPath, cfg.DenylistPath, cfg.LearnedPath, log)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	remote := evaluator.New(cfg.Evaluator, cfg.APIKey(), log)

	s := &Server{
		cfg:    cfg,
		store:  store,
		gate:   gate.New(store, remote, nil, nil, log),
		scorer: relevance.NewScorer(cfg.Scoring),
		packs:  pack.NewCache(log),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "packwatch",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all packwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "packwatch_check",
		Description: "Check whether a shell command would be allowed, denied, or need confirmation. Does not execute anything.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "packwatch_packs",
		Description: "Score knowledge packs against a file path and return the relevant packs and lessons.",
	}, s.handlePacks)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "packwatch_learn",
		Description: "Persist a learned approval rule. Rejected when the pattern conflicts with the deny list.",
	}, s.handleLearn)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/brunobiu/chatbotprincipal/internal/logging"
	"github.com/brunobiu/chatbotprincipal/internal/mcp"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

// Operator tools for MCP clients, served over stdio. Stdout carries the
// protocol so logs go to stderr.
func main() {
	_ = godotenv.Load()

	log := logging.New(os.Getenv("CHATBOT_LOG__LEVEL"), false)

	apiURL := os.Getenv("CHATBOT_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	defaultTenant := os.Getenv("CHATBOT_DEFAULT_TENANT")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("api", apiURL).Str("default_tenant", defaultTenant).Msg("operator MCP server starting")

	server := mcp.NewServer(mcp.NewClient(apiURL), defaultTenant, Version)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("MCP server stopped")
		os.Exit(1)
	}
}

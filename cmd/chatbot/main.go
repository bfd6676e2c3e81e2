package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brunobiu/chatbotprincipal/internal/conf"
	"github.com/brunobiu/chatbotprincipal/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatbot",
	Short: "Multi-tenant customer service chatbot",
	Long:  "Answers customer messages with tenant knowledge and hands low-confidence conversations to human operators.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load .env file
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chatbot.toml, ./configs/chatbot.toml or ~/.chatbot/chatbot.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatbot %s\n", Version)
		},
	}
}

// loadConfig loads configuration and builds the process logger
func loadConfig() (*conf.Config, zerolog.Logger, error) {
	cfg, err := conf.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return cfg, logging.New(level, cfg.Log.Pretty), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

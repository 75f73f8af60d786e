/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/internal/server"
	"github.com/playbell/apiserver/logger"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the PlayBell server",
	Long: `Starts the PlayBell HTTP server, the notification deliverer and,
when a bot token is configured, the Telegram admin bot. Usage:

	playbell server
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		defer logger.CloseLogger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			logger.Errorf("failed to start server: %v", err)
			os.Exit(1)
		}
		if err := srv.Run(ctx); err != nil {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
		logger.Info("server stopped")
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	logger.InitLogger(logger.ParseLevel(cfg.LogLevel), cfg.LogDir)
	return cfg, nil
}

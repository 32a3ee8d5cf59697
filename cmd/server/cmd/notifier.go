package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/database"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Consume registration events and notify registrants",
	Long: `Consume registration changes from RabbitMQ, store an in-app notification
for the registrant and, when EMAIL_ENABLED is true, send an email through Resend.

The consumer reconnects with backoff if the broker goes away and stops on
SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNotifier()
	},
}

func runNotifier() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	consumer, err := newConsumer(cfg, db, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info().Str("queue", cfg.Broker.NotificationQueue).Msg("notifier started")
	return consumer.Run(ctx)
}

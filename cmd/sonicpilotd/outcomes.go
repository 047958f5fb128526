package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"SonicPilot/internal/outcome"
	"SonicPilot/pkg/logger"
)

func outcomesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes",
		Short: "Tail wizard outcome events from the configured queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("sonicpilot-outcomes")
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Outcomes.Driver == "" || cfg.Outcomes.Driver == "memory" {
				return errors.New("outcomes 需要 redis 或 rabbitmq 事件驱动")
			}

			queue, err := outcome.Open(cmd.Context(), cfg.Outcomes)
			if err != nil {
				return err
			}
			defer queue.Close()

			err = queue.Consume(cmd.Context(), logOutcome(logger.Named("outcomes")))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func logOutcome(log *slog.Logger) outcome.Handler {
	return func(ctx context.Context, event outcome.Event) error {
		attrs := []any{
			slog.String("id", event.ID),
			slog.String("flow", event.Flow),
			slog.String("kind", string(event.Kind)),
			slog.String("step", event.Step),
			slog.String("user_id", event.UserID),
		}
		if event.Code != "" {
			attrs = append(attrs, slog.String("code", event.Code), slog.String("message", event.Message))
		}
		if addr := event.Data["contract_address"]; addr != "" {
			attrs = append(attrs, slog.String("contract_address", addr))
		}
		log.InfoContext(ctx, "向导终态事件", attrs...)
		return nil
	}
}

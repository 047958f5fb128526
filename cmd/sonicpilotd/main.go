package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"SonicPilot/internal/config"
	"SonicPilot/internal/storage/mysql"
	"SonicPilot/pkg/logger"
)

var configPath string

// main 是 SonicPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:          "sonicpilotd",
		Short:        "Conversational wizard backend for launching, selling and swapping tokens on Sonic",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML or JSON config file (default $"+config.EnvConfigPath+")")

	root.AddCommand(serveCmd(), migrateCmd(), outcomesCmd())
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化全局日志，未提供配置文件时使用默认值。
func loadConfig(service string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := config.ResolvePath(configPath); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg = config.Default(wd)
	}

	if err := logger.Init(logger.Config{
		Service:     service,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mysqlConfig(cfg config.TokenStoreConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
	}
}

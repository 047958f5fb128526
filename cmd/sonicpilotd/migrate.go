package main

import (
	"errors"

	"github.com/spf13/cobra"

	"SonicPilot/internal/storage/mysql"
	"SonicPilot/pkg/logger"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending MySQL migrations for the launched token store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("sonicpilot-migrate")
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Storage.TokenStore.Driver != "mysql" {
				return errors.New("migrate 需要 storage.token_store.driver 为 mysql")
			}
			if err := mysql.Migrate(cmd.Context(), mysqlConfig(cfg.Storage.TokenStore)); err != nil {
				return err
			}
			logger.L().Info("数据库迁移完成")
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/across/internal/bootstrap"
	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/logging"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/store/pg"
)

func seedCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the default workspace, admin user and global quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.Setup(cfg.Logging)

			stores, db, err := pg.NewPGStores(store.StoreConfig{
				PostgresDSN:   cfg.Database.PostgresDSN,
				EncryptionKey: cfg.Security.SecretKey,
				MaxOpen:       cfg.Database.MaxOpen,
				MaxIdle:       cfg.Database.MaxIdle,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if email == "" {
				email = os.Getenv("ACROSS_ADMIN_EMAIL")
			}
			if password == "" {
				password = os.Getenv("ACROSS_ADMIN_PASSWORD")
			}

			return bootstrap.Seed(context.Background(), stores, bootstrap.SeedParams{
				AdminEmail:    email,
				AdminPassword: password,
				AdminName:     name,
			})
		},
	}

	cmd.Flags().StringVar(&email, "admin-email", "", "admin account email (default: $ACROSS_ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "admin-password", "", "admin account password (default: $ACROSS_ADMIN_PASSWORD)")
	cmd.Flags().StringVar(&name, "admin-name", "", "admin display name")
	return cmd
}

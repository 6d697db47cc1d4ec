// seed inserts development accounts for local testing.
// Idempotent: accounts whose username or email already exist are skipped.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vidstream/backend/internal/config"
	"vidstream/backend/internal/db"
	"vidstream/backend/internal/logging"
	"vidstream/backend/internal/security"
	userdomain "vidstream/backend/internal/user/domain"
	userrepo "vidstream/backend/internal/user/repository"
)

const defaultAvatarURL = "https://cdn.vidstream.local/media/default-avatar.png"

type seedAccount struct {
	username, email, fullName string
}

var devAccounts = []seedAccount{
	{"alice", "alice@example.com", "Alice Liddell"},
	{"dev", "dev@example.com", "Dev User"},
}

func main() {
	log := logging.New("vidstream-seed", "info", "text", os.Stderr)
	if err := newRootCmd(log).Execute(); err != nil {
		log.Error(context.Background(), "seed failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(log logging.Logger) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Insert development accounts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultConnectAttempts)
			if err != nil {
				return err
			}
			defer pool.Close()
			return seed(ctx, userrepo.NewPostgresRepository(pool), security.NewHasher(cfg.BcryptCost), password, log)
		},
	}
	cmd.Flags().StringVar(&password, "password", "password123", "password for every seeded account")
	return cmd
}

func seed(ctx context.Context, repo userrepo.Repository, hasher *security.Hasher, password string, log logging.Logger) error {
	hash, err := hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	for _, sa := range devAccounts {
		exists, err := repo.ExistsByUsernameOrEmail(ctx, sa.username, sa.email)
		if err != nil {
			return err
		}
		if exists {
			log.Info(ctx, "account exists; skipping", "username", sa.username)
			continue
		}
		now := time.Now().UTC()
		acct := &userdomain.Account{
			ID:           uuid.New().String(),
			Username:     sa.username,
			Email:        sa.email,
			FullName:     sa.fullName,
			AvatarURL:    defaultAvatarURL,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repo.Create(ctx, acct); err != nil {
			return err
		}
		log.Info(ctx, "account seeded", "username", sa.username, "id", acct.ID)
	}
	return nil
}

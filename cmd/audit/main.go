// audit prints the audit trail of one account as JSON lines, newest first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	auditrepo "vidstream/backend/internal/audit/repository"
	"vidstream/backend/internal/config"
	"vidstream/backend/internal/db"
	"vidstream/backend/internal/logging"
)

const defaultLimit = 50

type entry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	IP        string          `json:"ip"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	log := logging.New("vidstream-audit", "info", "text", os.Stderr)
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.Error(context.Background(), "audit failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "audit",
		Short:         "Inspect the audit log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var (
		userID string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit events for one account",
		Args:  cobra.NoArgs,
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
			return listEvents(ctx, auditrepo.NewPostgresRepository(pool), userID, limit, out)
		},
	}
	list.Flags().StringVar(&userID, "user", "", "account id")
	list.Flags().IntVar(&limit, "limit", defaultLimit, "maximum number of events")
	_ = list.MarkFlagRequired("user")
	root.AddCommand(list)
	return root
}

func listEvents(ctx context.Context, repo auditrepo.Repository, userID string, limit int, w io.Writer) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	logs, err := repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, l := range logs {
		e := entry{
			ID:        l.ID,
			UserID:    l.UserID,
			Action:    l.Action,
			Resource:  l.Resource,
			IP:        l.IP,
			CreatedAt: l.CreatedAt,
		}
		if json.Valid([]byte(l.Metadata)) {
			e.Metadata = json.RawMessage(l.Metadata)
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

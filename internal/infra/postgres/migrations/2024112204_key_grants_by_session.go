package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

var (
	//go:embed 2024112204_key_grants_by_session.up.sql
	keyGrantsBySessionUpSQL string
	//go:embed 2024112204_key_grants_by_session.down.sql
	keyGrantsBySessionDownSQL string
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, keyGrantsBySessionUpSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, keyGrantsBySessionDownSQL)
			return err
		},
	)
}

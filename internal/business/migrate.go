package business

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/authcode-flow/internal/config"
	migrations "github.com/openkcm/authcode-flow/sql"
)

// MigrateMain brings the schema of the PostgreSQL session store up to date.
// The flow_state and sessions tables must exist before an api-server with the
// postgres store starts.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Type != "" && cfg.Store.Type != config.StoreTypePostgres {
		slogctx.Warn(ctx, "Migrating a database that the configured session store does not use", "store", cfg.Store.Type)
	}

	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	dbSystemName := semconv.DBSystemNamePostgreSQL

	db, err := otelsql.Open("pgx", connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}
	defer func() {
		if err := reg.Unregister(); err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		slogctx.Info(ctx, "Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	slogctx.Info(ctx, "Session store schema is up to date", "version", version, "applied", len(results))

	return nil
}

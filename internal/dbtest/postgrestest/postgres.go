package postgrestest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"

	migrations "github.com/openkcm/authcode-flow/sql"
)

const (
	DBHost     = "localhost"
	DBUser     = "postgres"
	DBPassword = "secret"
	DBName     = "authcode_flow"
	DBSSLMode  = "disable"
)

// ExpiryTime is the time used as "expiry" for the inserted data
//
//nolint:gosmopolitan
var ExpiryTime = time.Now().Add(30 * 24 * time.Hour).Truncate(time.Microsecond).Local()

// PastTime is the expiry of the pre-defined expired rows.
//
//nolint:gosmopolitan
var PastTime = time.Now().Add(-time.Hour).Truncate(time.Microsecond).Local()

// Start initialises a database instance and returns a connection pool, database port, and termination function.
//
// Database credentials are available as exported variables.
// The database contains pre-defined test data. See INSERT statements in the prepareDB.
func Start(ctx context.Context) (*pgxpool.Pool, nat.Port, func(ctx context.Context)) {
	pgContainer, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(DBName),
		postgres.WithUsername(DBUser),
		postgres.WithPassword(DBPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		slogctx.Error(ctx, "Failed to start PostgreSQL", slog.String("error", err.Error()))
		panic(err)
	}

	port, err := pgContainer.MappedPort(ctx, nat.Port("5432"))
	if err != nil {
		slogctx.Error(ctx, "Failed to get mapped port for the PostgreSQL container", slog.String("error", err.Error()))
		panic(err)
	}

	dbPool := makeDBConn(ctx, port)
	prepareDB(ctx, dbPool, port)

	terminate := func(ctx context.Context) {
		dbPool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate PostgreSQL container", slog.String("error", err.Error()))
			panic(err)
		}
	}

	return dbPool, port, terminate
}

// ConnStr returns the key/value connection string of the test database.
func ConnStr(port nat.Port) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s", DBHost, DBUser, DBPassword, DBName, port.Port(), DBSSLMode)
}

func makeDBConn(ctx context.Context, port nat.Port) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, ConnStr(port))
	if err != nil {
		panic(err)
	}

	return pool
}

func migrateDB(ctx context.Context, port nat.Port) {
	db, err := sql.Open("pgx", ConnStr(port))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		panic(err)
	}

	if _, err := provider.Up(ctx); err != nil {
		panic(err)
	}
}

func prepareDB(ctx context.Context, dbPool *pgxpool.Pool, port nat.Port) {
	migrateDB(ctx, port)

	b := new(pgx.Batch)
	b.Queue(`INSERT INTO flow_state (state_id, code_verifier, fingerprint, request_uri, expiry) VALUES ('stateid-one', 'verifier-one', 'fingerprint-one', '/profile', $1);`, ExpiryTime)
	b.Queue(`INSERT INTO flow_state (state_id, code_verifier, fingerprint, request_uri, expiry) VALUES ('stateid-expired', 'verifier-expired', 'fingerprint-one', '/', $1);`, PastTime)
	b.Queue(`INSERT INTO sessions (id, fingerprint, csrf_token, claims, access_token, token_type, expiry) VALUES ('sessionid-one', 'fingerprint-one', 'csrf-one', '{"sub":"user-one","email":"one@example.com"}', 'token-one', 'Bearer', $1);`, ExpiryTime)
	b.Queue(`INSERT INTO sessions (id, fingerprint, csrf_token, access_token, expiry) VALUES ('sessionid-expired', 'fingerprint-one', 'csrf-expired', 'token-expired', $1);`, PastTime)

	res := dbPool.SendBatch(ctx, b)
	if err := res.Close(); err != nil {
		panic(err)
	}
}

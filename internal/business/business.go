package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/business/server"
	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/session"
	sessionmemory "github.com/openkcm/authcode-flow/internal/session/memory"
	sessionsql "github.com/openkcm/authcode-flow/internal/session/sql"
	sessionvalkey "github.com/openkcm/authcode-flow/internal/session/valkey"
)

// Main starts the public HTTP server and, if enabled, the embedded housekeeper.
func Main(ctx context.Context, cfg *config.Config) error {
	sessionManager, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 2)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	// start public HTTP API server
	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, sessionManager)
	})

	if cfg.Housekeeper.Embedded {
		wg.Go(func() {
			errChan <- runHousekeeping(ctx, sessionManager, cfg.Housekeeper)
		})
	}

	// wait for any error to initiate the shutdown
	err = <-errChan
	if err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	// wait for all servers to shutdown
	wg.Wait()

	return err
}

func initSessionManager(ctx context.Context, cfg *config.Config) (_ *session.Manager, closeFn func(), _ error) {
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("validating configuration: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.OAuth.ExchangeTimeout}

	provider, err := oidc.Resolve(ctx, oidc.Configuration{
		Issuer:                cfg.OAuth.Issuer,
		AuthorizationEndpoint: cfg.OAuth.AuthorizationEndpoint,
		TokenEndpoint:         cfg.OAuth.TokenEndpoint,
		JwksURI:               cfg.OAuth.JWKSURI,
	}, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving the provider configuration: %w", err)
	}

	clientSecret, err := cfg.OAuth.ClientSecretValue()
	if err != nil {
		return nil, nil, fmt.Errorf("loading client secret: %w", err)
	}

	exchanger, err := flow.NewExchanger(flow.ExchangerConfig{
		TokenEndpoint: provider.TokenEndpoint,
		ClientID:      cfg.OAuth.ClientID,
		ClientSecret:  clientSecret,
		RedirectURI:   cfg.OAuth.RedirectURI,
		Credentials:   flow.Credentials(cfg.OAuth.Credentials),
		Timeout:       cfg.OAuth.ExchangeTimeout,
		RetryDelay:    cfg.OAuth.RetryDelay,
	}, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("creating token exchanger: %w", err)
	}

	idTokens := oidc.NewIDTokenDecoder(oidc.DecoderConfig{
		Issuer:   provider.Issuer,
		ClientID: cfg.OAuth.ClientID,
		JwksURI:  provider.JwksURI,
		Algs:     provider.IDTokenSigningAlgValuesSupported,
	}, httpClient)

	auditLogger, err := loadAuditLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	repo, closeRepo, err := initRepository(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the session store: %w", err)
	}

	sessManager, err := session.NewManager(
		&cfg.OAuth,
		&cfg.SessionManager,
		provider.AuthorizationEndpoint,
		repo,
		exchanger,
		idTokens,
		auditLogger,
	)
	if err != nil {
		closeRepo()
		return nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	return sessManager, closeRepo, nil
}

// loadAuditLogger returns nil when no audit endpoint is configured.
func loadAuditLogger(cfg *config.Config) (*otlpaudit.AuditLogger, error) {
	if cfg.Audit.Endpoint == "" {
		return nil, nil
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	return auditLogger, nil
}

func initRepository(ctx context.Context, cfg *config.Config) (_ session.Repository, closeFn func(), _ error) {
	switch cfg.Store.Type {
	case config.StoreTypeMemory:
		slogctx.Warn(ctx, "Using the in-memory session store; sessions are lost on restart")
		return sessionmemory.NewRepository(cfg.Store.CleanupInterval), func() {}, nil
	case config.StoreTypeValkey:
		return initValkeyRepository(cfg)
	case config.StoreTypePostgres:
		return initPostgresRepository(ctx, cfg)
	default:
		return nil, nil, errors.New("unknown session store type")
	}
}

func initValkeyRepository(cfg *config.Config) (_ session.Repository, closeFn func(), _ error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
}

func initPostgresRepository(ctx context.Context, cfg *config.Config) (_ session.Repository, closeFn func(), _ error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	if err := otelpgx.RecordStats(db); err != nil {
		slogctx.Warn(ctx, "Failed to record pgxpool stats", "error", err)
	}

	return sessionsql.NewRepository(db), db.Close, nil
}

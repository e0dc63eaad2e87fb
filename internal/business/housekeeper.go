package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/config"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// HousekeeperMain starts the house keeping jobs
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	sessionManager, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the session manager: %w", err)
	}
	defer closeFn()

	return runHousekeeping(ctx, sessionManager, cfg.Housekeeper)
}

// runHousekeeping purges expired flow states and sessions on every tick
// until ctx is done.
func runHousekeeping(ctx context.Context, p purger, cfg config.Housekeeper) error {
	if cfg.TriggerInterval <= 0 {
		return fmt.Errorf("invalid housekeeper trigger interval %s", cfg.TriggerInterval)
	}

	c := time.Tick(cfg.TriggerInterval)
	for {
		purged, err := p.PurgeExpired(ctx)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		} else {
			slogctx.Info(ctx, "Purged expired records", "count", purged)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/klashlabs/klash-engine/internal/archive"
	"github.com/klashlabs/klash-engine/internal/classifier"
	"github.com/klashlabs/klash-engine/internal/domain"
	"github.com/klashlabs/klash-engine/internal/ledger"
	"github.com/klashlabs/klash-engine/internal/platform/feedscan"
	"github.com/klashlabs/klash-engine/internal/settlement"
)

// core bundles the ledger-layer objects shared by every mode.
type core struct {
	governor *ledger.Governor
	ledger   *ledger.Ledger
	treasury *ledger.Treasury
}

// buildCore constructs the governor, ledger, and treasury, and optionally
// initializes the config and treasury singletons when the configuration asks
// for it. Re-initialization of already-initialized state is tolerated so
// restarts are safe.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	governor := ledger.NewGovernor(deps.GovernanceStore, deps.LockManager, ledger.GovernorParams{
		FeeBps:   uint32(a.cfg.Governance.FeeBps),
		MinBet:   uint64(a.cfg.Governance.MinBet),
		MaxBet:   uint64(a.cfg.Governance.MaxBet),
		MinDelay: time.Duration(a.cfg.Governance.MinDelayHours) * time.Hour,
		LockTTL:  a.cfg.Governance.LockTTL.Duration,
	}, a.logger)

	lgr := ledger.NewLedger(
		deps.MarketStore,
		deps.BetStore,
		deps.MarketCache,
		deps.LockManager,
		governor,
		a.cfg.Ledger.LockTTL.Duration,
		a.logger,
	)

	treasury := ledger.NewTreasury(deps.TreasuryStore, deps.LockManager, a.cfg.Ledger.LockTTL.Duration, a.logger)

	if a.cfg.Ledger.InitializeState {
		admin := common.HexToAddress(a.cfg.Ledger.AdminAddress)
		if err := governor.Initialize(ctx, admin); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
			return nil, fmt.Errorf("initialize config state: %w", err)
		}
		if err := treasury.Initialize(ctx, admin); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
			return nil, fmt.Errorf("initialize treasury: %w", err)
		}
	}

	return &core{governor: governor, ledger: lgr, treasury: treasury}, nil
}

// buildEngine constructs the settlement engine with its external service
// clients.
func (a *App) buildEngine(c *core, deps *Dependencies) *settlement.Engine {
	classifierClient := classifier.NewClient(
		a.cfg.Classifier.BaseURL,
		a.cfg.Classifier.APIKey,
		a.cfg.Classifier.Timeout.Duration,
	)
	replySource := feedscan.NewClient(
		a.cfg.Feedscan.BaseURL,
		a.cfg.Feedscan.APIKey,
		a.cfg.Feedscan.Timeout.Duration,
	)

	return settlement.NewEngine(
		c.ledger,
		c.treasury,
		deps.ResolutionStore,
		deps.AuditStore,
		replySource,
		classifierClient,
		classifierClient,
		deps.RateLimiter,
		settlement.EngineParams{
			Oracle:          common.HexToAddress(a.cfg.Ledger.OracleAddress),
			MaxReplies:      a.cfg.Feedscan.MaxReplies,
			ClassifyTimeout: a.cfg.Classifier.Timeout.Duration,
		},
		a.logger,
	)
}

// SettleMode runs the auto-resolution scheduler.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	if !a.cfg.Settlement.Enabled {
		a.logger.WarnContext(ctx, "settlement.enabled is false, but settle mode always runs the scheduler")
	}

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("settle mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, c, deps)
	return g.Wait()
}

// ArchiveMode runs the cold-storage archiver.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archive.enabled must be true and s3 configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: the scheduler and, when enabled, the
// archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Settlement.Enabled {
		a.startScheduler(ctx, g, c, deps)
	} else {
		a.logger.InfoContext(ctx, "settlement disabled, scheduler not started")
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}

	return g.Wait()
}

// startScheduler adds the auto-resolution sweep goroutine to the errgroup.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	engine := a.buildEngine(c, deps)
	scheduler := settlement.NewScheduler(deps.MarketStore, engine, deps.Notifier, settlement.SchedulerParams{
		Interval:    a.cfg.Settlement.SweepInterval.Duration,
		MaxAttempts: a.cfg.Settlement.MaxAttempts,
		Concurrency: a.cfg.Settlement.Concurrency,
	}, a.logger)

	g.Go(func() error {
		err := scheduler.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scheduler: %w", err)
	})
}

// startArchiver adds the archive loop goroutine to the errgroup. A cron
// expression takes precedence over the fixed interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	runner := archive.NewRunner(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)

	g.Go(func() error {
		var err error
		if cron := a.cfg.Archive.Cron; cron != "" {
			err = runner.RunCron(ctx, cron)
		} else {
			err = runner.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("archiver: %w", err)
	})

	a.logger.InfoContext(ctx, "archiver scheduled",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
}

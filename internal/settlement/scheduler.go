package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// EventPublisher receives the events a successful resolution produced.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// SchedulerParams configures the auto-resolution scheduler.
type SchedulerParams struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxAttempts is the per-market attempt budget; markets at the budget
	// are left for manual resolution.
	MaxAttempts int
	// Concurrency bounds how many markets are attempted in parallel.
	Concurrency int
}

// Scheduler periodically sweeps for resolvable markets and runs an automatic
// resolution attempt on each. Attempts are bounded per market; a market that
// exhausts its budget drops out of the sweep until someone resolves it
// manually.
type Scheduler struct {
	markets   domain.MarketStore
	engine    *Engine
	publisher EventPublisher // may be nil
	params    SchedulerParams
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. The publisher may be nil, in which case
// resolution events are dropped after logging.
func NewScheduler(markets domain.MarketStore, engine *Engine, publisher EventPublisher, params SchedulerParams, logger *slog.Logger) *Scheduler {
	if params.Interval <= 0 {
		params.Interval = 5 * time.Minute
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 1
	}
	return &Scheduler{
		markets:   markets,
		engine:    engine,
		publisher: publisher,
		params:    params,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Run sweeps on the configured interval until the context is cancelled. Sweep
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.params.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("interval", s.params.Interval),
		slog.Int("max_attempts", s.params.MaxAttempts),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs a single sweep: list resolvable markets and attempt each one.
// Per-market failures are recorded on the market and do not abort the sweep.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	markets, err := s.markets.ListResolvable(ctx, now, s.params.MaxAttempts)
	if err != nil {
		return fmt.Errorf("settlement: list resolvable: %w", err)
	}
	if len(markets) == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "sweep started", slog.Int("markets", len(markets)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)
	for _, market := range markets {
		g.Go(func() error {
			s.attempt(gctx, market)
			return nil
		})
	}
	return g.Wait()
}

// attempt runs one resolution attempt and records the outcome on the market.
func (s *Scheduler) attempt(ctx context.Context, market domain.Market) {
	resolution, events, err := s.engine.ResolveAuto(ctx, market)
	if err != nil {
		s.logger.WarnContext(ctx, "resolution attempt failed",
			slog.String("market_id", market.ID),
			slog.Int("attempt", market.ResolutionAttempts+1),
			slog.String("error", err.Error()),
		)
		s.recordFailure(ctx, market.ID, err)
		return
	}

	s.logger.InfoContext(ctx, "market auto-resolved",
		slog.String("market_id", market.ID),
		slog.Int("outcome", resolution.Outcome),
		slog.String("method", string(resolution.Method)),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events); err != nil {
			s.logger.WarnContext(ctx, "event publish failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recordFailure bumps the market's attempt counter and stores the error so
// the sweep eventually stops retrying it.
func (s *Scheduler) recordFailure(ctx context.Context, marketID string, attemptErr error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		s.logger.ErrorContext(ctx, "record attempt failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	market.ResolutionAttempts++
	market.LastAttemptAt = &now
	market.LastAttemptError = attemptErr.Error()
	if err := s.markets.Update(ctx, market); err != nil {
		s.logger.ErrorContext(ctx, "record attempt failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

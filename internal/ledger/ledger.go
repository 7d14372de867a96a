package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// marketLockKey serializes mutations of a single market and its bets.
func marketLockKey(id string) string { return "market:" + id }

// Ledger is the per-market state machine. Every mutating operation acquires
// the market's lock, validates against the current state, commits through the
// store, and returns the events it produced. Failed operations leave all state
// unchanged.
type Ledger struct {
	markets  domain.MarketStore
	bets     domain.BetStore
	cache    domain.MarketCache // may be nil; reads then go straight to the store
	locks    domain.LockManager
	governor *Governor
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewLedger creates a Ledger with all required dependencies.
func NewLedger(
	markets domain.MarketStore,
	bets domain.BetStore,
	cache domain.MarketCache,
	locks domain.LockManager,
	governor *Governor,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Ledger {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Ledger{
		markets:  markets,
		bets:     bets,
		cache:    cache,
		locks:    locks,
		governor: governor,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// CreateMarket opens a new market with at least two outcomes and all pools
// zeroed. The protocol version and fee rate are stamped from the current
// configuration.
func (l *Ledger) CreateMarket(
	ctx context.Context,
	creator, oracle common.Address,
	question, sourcePostID string,
	outcomes []string,
	closesAt time.Time,
) (domain.Market, []domain.Event, error) {
	if len(outcomes) < 2 {
		return domain.Market{}, nil, fmt.Errorf("%w: need at least two outcomes, got %d", domain.ErrInvalidArgument, len(outcomes))
	}
	for _, o := range outcomes {
		if o == "" {
			return domain.Market{}, nil, fmt.Errorf("%w: empty outcome name", domain.ErrInvalidArgument)
		}
	}

	state, err := l.governor.State(ctx)
	if err != nil {
		return domain.Market{}, nil, err
	}

	now := time.Now().UTC()
	market := domain.Market{
		ID:           uuid.New().String(),
		Creator:      creator,
		Oracle:       oracle,
		Question:     question,
		SourcePostID: sourcePostID,
		Outcomes:     outcomes,
		Pools:        make([]uint64, len(outcomes)),
		Status:       domain.MarketStatusActive,
		Version:      state.Version,
		FeeBps:       state.FeeBps,
		CreatedAt:    now,
		ClosesAt:     closesAt,
	}

	if err := l.markets.Create(ctx, market); err != nil {
		return domain.Market{}, nil, fmt.Errorf("ledger: create market: %w", err)
	}

	l.logger.InfoContext(ctx, "market created",
		slog.String("market_id", market.ID),
		slog.String("creator", creator.Hex()),
		slog.Int("outcomes", len(outcomes)),
	)

	events := []domain.Event{domain.NewEvent(domain.EventMarketCreated, market.ID, creator, map[string]any{
		"question":  question,
		"outcomes":  outcomes,
		"closes_at": closesAt.Format(time.RFC3339),
		"version":   market.Version,
	})}
	return market, events, nil
}

// PlaceBet escrows amount on the given outcome of an active market. The pool
// increment and the bet upsert commit in a single store transaction. A repeat
// bet by the same bettor accumulates on the same outcome; switching outcomes
// is rejected.
func (l *Ledger) PlaceBet(ctx context.Context, bettor common.Address, marketID string, outcome int, amount uint64) (domain.Bet, []domain.Event, error) {
	state, err := l.governor.State(ctx)
	if err != nil {
		return domain.Bet{}, nil, err
	}
	if amount < state.MinBet || amount > state.MaxBet {
		return domain.Bet{}, nil, domain.ErrAmountOutOfRange
	}

	unlock, err := l.locks.Acquire(ctx, marketLockKey(marketID), l.lockTTL)
	if err != nil {
		return domain.Bet{}, nil, fmt.Errorf("ledger: place bet: %w", err)
	}
	defer unlock()

	market, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Bet{}, nil, fmt.Errorf("ledger: place bet on %s: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return domain.Bet{}, nil, domain.ErrMarketClosed
	}
	if !market.ValidOutcome(outcome) {
		return domain.Bet{}, nil, domain.ErrInvalidOutcome
	}

	now := time.Now().UTC()
	bet, err := l.bets.Get(ctx, marketID, bettor)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		bet = domain.Bet{
			MarketID: marketID,
			Bettor:   bettor,
			Outcome:  outcome,
			Amount:   amount,
			PlacedAt: now,
		}
	case err != nil:
		return domain.Bet{}, nil, fmt.Errorf("ledger: place bet on %s: %w", marketID, err)
	default:
		if bet.Outcome != outcome {
			return domain.Bet{}, nil, fmt.Errorf("%w: bet already placed on outcome %d", domain.ErrInvalidArgument, bet.Outcome)
		}
		bet.Amount += amount
	}

	market.Pools[outcome] += amount
	if err := l.markets.UpdateWithBet(ctx, market, bet); err != nil {
		return domain.Bet{}, nil, fmt.Errorf("ledger: place bet on %s: %w", marketID, err)
	}
	l.invalidate(ctx, marketID)

	events := []domain.Event{domain.NewEvent(domain.EventBetPlaced, marketID, bettor, map[string]any{
		"outcome":    outcome,
		"amount":     amount,
		"cumulative": bet.Amount,
		"pool_total": market.TotalPool(),
	})}
	return bet, events, nil
}

// CloseMarket transitions an active market to closed. Creator only.
func (l *Ledger) CloseMarket(ctx context.Context, caller common.Address, marketID string) ([]domain.Event, error) {
	return l.close(ctx, caller, marketID, func(m domain.Market) error {
		if caller != m.Creator {
			return domain.ErrUnauthorized
		}
		return nil
	})
}

// ExpireMarket closes an active market whose closing time has passed. Oracle
// only; the auto-resolution scheduler uses it so markets the creator forgot to
// close can still be settled.
func (l *Ledger) ExpireMarket(ctx context.Context, caller common.Address, marketID string) ([]domain.Event, error) {
	return l.close(ctx, caller, marketID, func(m domain.Market) error {
		if caller != m.Oracle {
			return domain.ErrUnauthorized
		}
		if !m.Expired(time.Now().UTC()) {
			return domain.ErrInvalidState
		}
		return nil
	})
}

// close implements the shared active->closed transition with a caller-specific
// authorization check.
func (l *Ledger) close(ctx context.Context, caller common.Address, marketID string, authorize func(domain.Market) error) ([]domain.Event, error) {
	unlock, err := l.locks.Acquire(ctx, marketLockKey(marketID), l.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: close market: %w", err)
	}
	defer unlock()

	market, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger: close market %s: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return nil, domain.ErrInvalidState
	}
	if err := authorize(market); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	market.Status = domain.MarketStatusClosed
	market.ClosedAt = &now
	if err := l.markets.Update(ctx, market); err != nil {
		return nil, fmt.Errorf("ledger: close market %s: %w", marketID, err)
	}
	l.invalidate(ctx, marketID)

	l.logger.InfoContext(ctx, "market closed",
		slog.String("market_id", marketID),
		slog.String("caller", caller.Hex()),
	)

	return []domain.Event{domain.NewEvent(domain.EventMarketClosed, marketID, caller, map[string]any{
		"pool_total": market.TotalPool(),
	})}, nil
}

// CancelMarket terminates an active market without resolution. Creator or
// oracle only.
func (l *Ledger) CancelMarket(ctx context.Context, caller common.Address, marketID string) ([]domain.Event, error) {
	unlock, err := l.locks.Acquire(ctx, marketLockKey(marketID), l.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel market: %w", err)
	}
	defer unlock()

	market, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger: cancel market %s: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return nil, domain.ErrInvalidState
	}
	if caller != market.Creator && caller != market.Oracle {
		return nil, domain.ErrUnauthorized
	}

	market.Status = domain.MarketStatusCancelled
	if err := l.markets.Update(ctx, market); err != nil {
		return nil, fmt.Errorf("ledger: cancel market %s: %w", marketID, err)
	}
	l.invalidate(ctx, marketID)

	return []domain.Event{domain.NewEvent(domain.EventMarketCancelled, marketID, caller, nil)}, nil
}

// ResolveMarket records the winning outcome of a closed market. Creator or
// oracle only. The platform fee on the losing pool is computed exactly once
// here and reported in the event detail for treasury deposit; a second
// resolve fails with ErrMarketNotClosed.
func (l *Ledger) ResolveMarket(ctx context.Context, caller common.Address, marketID string, winningOutcome int) (uint64, []domain.Event, error) {
	unlock, err := l.locks.Acquire(ctx, marketLockKey(marketID), l.lockTTL)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: resolve market: %w", err)
	}
	defer unlock()

	market, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: resolve market %s: %w", marketID, err)
	}
	if caller != market.Creator && caller != market.Oracle {
		return 0, nil, domain.ErrUnauthorized
	}
	if market.Status != domain.MarketStatusClosed {
		return 0, nil, domain.ErrMarketNotClosed
	}
	if !market.ValidOutcome(winningOutcome) {
		return 0, nil, domain.ErrInvalidOutcome
	}

	now := time.Now().UTC()
	market.Status = domain.MarketStatusResolved
	market.ResolvedAt = &now
	market.WinningOutcome = &winningOutcome
	if err := l.markets.Update(ctx, market); err != nil {
		return 0, nil, fmt.Errorf("ledger: resolve market %s: %w", marketID, err)
	}
	l.invalidate(ctx, marketID)

	fee := Fee(market.LosingPool(winningOutcome), market.FeeBps)

	l.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.Int("winning_outcome", winningOutcome),
		slog.Uint64("fee", fee),
	)

	return fee, []domain.Event{domain.NewEvent(domain.EventMarketResolved, marketID, caller, map[string]any{
		"winning_outcome": winningOutcome,
		"fee":             fee,
		"pool_total":      market.TotalPool(),
	})}, nil
}

// Claim pays out a winning bet from the pooled fund. A bet can be claimed at
// most once; losing bets can never claim and are not refunded.
func (l *Ledger) Claim(ctx context.Context, bettor common.Address, marketID string) (uint64, []domain.Event, error) {
	unlock, err := l.locks.Acquire(ctx, marketLockKey(marketID), l.lockTTL)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: claim: %w", err)
	}
	defer unlock()

	market, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: claim on %s: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusResolved {
		return 0, nil, domain.ErrMarketNotResolved
	}

	bet, err := l.bets.Get(ctx, marketID, bettor)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: claim on %s: %w", marketID, err)
	}
	if bet.Claimed {
		return 0, nil, domain.ErrAlreadyClaimed
	}
	winning := *market.WinningOutcome
	if bet.Outcome != winning {
		return 0, nil, domain.ErrNotAWinner
	}

	payout := Payout(bet.Amount, market.Pools[winning], market.LosingPool(winning), market.FeeBps)

	now := time.Now().UTC()
	bet.Claimed = true
	bet.Payout = payout
	bet.ClaimedAt = &now
	if err := l.bets.Update(ctx, bet); err != nil {
		return 0, nil, fmt.Errorf("ledger: claim on %s: %w", marketID, err)
	}

	return payout, []domain.Event{domain.NewEvent(domain.EventWinningsClaimed, marketID, bettor, map[string]any{
		"outcome": bet.Outcome,
		"stake":   bet.Amount,
		"payout":  payout,
	})}, nil
}

// GetMarket retrieves a market, checking the cache first and falling back to
// the persistent store on a miss.
func (l *Ledger) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if l.cache != nil {
		if m, err := l.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := l.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: get market %s: %w", id, err)
	}

	if l.cache != nil {
		if cacheErr := l.cache.Set(ctx, m); cacheErr != nil {
			l.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// invalidate drops a market from the cache after a mutation. Cache errors are
// non-fatal; entries expire on their own.
func (l *Ledger) invalidate(ctx context.Context, id string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, id); err != nil {
		l.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// treasuryLockKey serializes all mutations of the treasury singleton.
const treasuryLockKey = "treasury"

// Treasury is the fee custody ledger. It records fee accounting only; actual
// value movement belongs to the market ledger.
type Treasury struct {
	store   domain.TreasuryStore
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewTreasury creates a Treasury with all required dependencies.
func NewTreasury(store domain.TreasuryStore, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Treasury {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Treasury{
		store:   store,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "treasury")),
	}
}

// Initialize sets the controlling admin on a fresh treasury. It may be
// invoked exactly once.
func (t *Treasury) Initialize(ctx context.Context, admin common.Address) error {
	unlock, err := t.locks.Acquire(ctx, treasuryLockKey, t.lockTTL)
	if err != nil {
		return fmt.Errorf("treasury: initialize: %w", err)
	}
	defer unlock()

	state, err := t.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("treasury: initialize: %w", err)
	}
	if state.Admin != (common.Address{}) {
		return domain.ErrAlreadyInitialized
	}

	state.Admin = admin
	state.Version = 1
	state.UpdatedAt = time.Now().UTC()
	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("treasury: initialize: %w", err)
	}
	return nil
}

// DepositFees increments the collected counter by amount.
func (t *Treasury) DepositFees(ctx context.Context, payer common.Address, amount uint64) ([]domain.Event, error) {
	if amount == 0 {
		return nil, nil
	}

	unlock, err := t.locks.Acquire(ctx, treasuryLockKey, t.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("treasury: deposit: %w", err)
	}
	defer unlock()

	state, err := t.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: deposit: %w", err)
	}

	state.Collected += amount
	state.UpdatedAt = time.Now().UTC()
	if err := t.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("treasury: deposit: %w", err)
	}

	return []domain.Event{domain.NewEvent(domain.EventFeesCollected, "", payer, map[string]any{
		"amount":    amount,
		"collected": state.Collected,
	})}, nil
}

// WithdrawFees increments the withdrawn counter by amount. Admin only; the
// amount must be positive and within the available balance, so withdrawn
// never exceeds collected.
func (t *Treasury) WithdrawFees(ctx context.Context, caller, to common.Address, amount uint64) ([]domain.Event, error) {
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}

	unlock, err := t.locks.Acquire(ctx, treasuryLockKey, t.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("treasury: withdraw: %w", err)
	}
	defer unlock()

	state, err := t.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: withdraw: %w", err)
	}
	if caller != state.Admin {
		return nil, domain.ErrUnauthorized
	}
	if amount > state.Available() {
		return nil, domain.ErrInvalidAmount
	}

	state.Withdrawn += amount
	state.UpdatedAt = time.Now().UTC()
	if err := t.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("treasury: withdraw: %w", err)
	}

	t.logger.InfoContext(ctx, "fees withdrawn",
		slog.String("to", to.Hex()),
		slog.Uint64("amount", amount),
		slog.Uint64("available", state.Available()),
	)

	return []domain.Event{domain.NewEvent(domain.EventFeesWithdrawn, "", caller, map[string]any{
		"to":        to.Hex(),
		"amount":    amount,
		"available": state.Available(),
	})}, nil
}

// Balance returns the current treasury accounting state.
func (t *Treasury) Balance(ctx context.Context) (domain.Treasury, error) {
	state, err := t.store.Get(ctx)
	if err != nil {
		return domain.Treasury{}, fmt.Errorf("treasury: balance: %w", err)
	}
	return state, nil
}

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// configLockKey serializes all mutations of the config singleton.
const configLockKey = "config"

// GovernorParams holds the initial protocol parameters applied at
// initialization time.
type GovernorParams struct {
	FeeBps   uint32
	MinBet   uint64
	MaxBet   uint64
	MinDelay time.Duration // minimum upgrade timelock
	LockTTL  time.Duration
}

// Governor owns the protocol configuration singleton: admin identity, fee and
// bet-limit parameters, and the timelocked upgrade-proposal registry. Timelock
// checks are evaluated lazily at execution time; there is no background timer.
type Governor struct {
	store  domain.GovernanceStore
	locks  domain.LockManager
	params GovernorParams
	logger *slog.Logger
}

// NewGovernor creates a Governor with all required dependencies.
func NewGovernor(store domain.GovernanceStore, locks domain.LockManager, params GovernorParams, logger *slog.Logger) *Governor {
	if params.LockTTL <= 0 {
		params.LockTTL = 10 * time.Second
	}
	return &Governor{
		store:  store,
		locks:  locks,
		params: params,
		logger: logger.With(slog.String("component", "governor")),
	}
}

// Initialize sets up the config singleton with the given admin and the
// configured initial parameters. It may be invoked exactly once.
func (g *Governor) Initialize(ctx context.Context, admin common.Address) error {
	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return fmt.Errorf("governor: initialize: %w", err)
	}
	defer unlock()

	state, err := g.store.GetState(ctx)
	if err != nil {
		return fmt.Errorf("governor: initialize: %w", err)
	}
	if state.Initialized {
		return domain.ErrAlreadyInitialized
	}

	state = domain.ConfigState{
		Initialized:    true,
		Admin:          admin,
		Version:        1,
		FeeBps:         g.params.FeeBps,
		MinBet:         g.params.MinBet,
		MaxBet:         g.params.MaxBet,
		NextProposalID: 1,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := g.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("governor: initialize: %w", err)
	}

	g.logger.InfoContext(ctx, "config initialized",
		slog.String("admin", admin.Hex()),
		slog.Int("fee_bps", int(state.FeeBps)),
	)
	return nil
}

// State returns the current configuration. It fails with
// domain.ErrInvalidState before Initialize has run.
func (g *Governor) State(ctx context.Context) (domain.ConfigState, error) {
	state, err := g.store.GetState(ctx)
	if err != nil {
		return domain.ConfigState{}, fmt.Errorf("governor: get state: %w", err)
	}
	if !state.Initialized {
		return domain.ConfigState{}, domain.ErrInvalidState
	}
	return state, nil
}

// ProposeUpgrade registers a timelocked upgrade proposal. The caller must be
// the admin and the delay must be at least the configured minimum.
func (g *Governor) ProposeUpgrade(ctx context.Context, caller common.Address, newVersion uint32, codeRef common.Hash, delay time.Duration) (domain.UpgradeProposal, []domain.Event, error) {
	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return domain.UpgradeProposal{}, nil, fmt.Errorf("governor: propose upgrade: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return domain.UpgradeProposal{}, nil, err
	}
	if caller != state.Admin {
		return domain.UpgradeProposal{}, nil, domain.ErrUnauthorized
	}
	if delay < g.params.MinDelay {
		return domain.UpgradeProposal{}, nil, domain.ErrInsufficientDelay
	}

	proposal := domain.UpgradeProposal{
		ID:         state.NextProposalID,
		Version:    newVersion,
		CodeRef:    codeRef,
		ProposedAt: time.Now().UTC(),
		Delay:      delay,
	}
	state.NextProposalID++
	state.UpdatedAt = time.Now().UTC()
	if err := g.store.CreateProposalWithState(ctx, state, proposal); err != nil {
		return domain.UpgradeProposal{}, nil, fmt.Errorf("governor: create proposal %d: %w", proposal.ID, err)
	}

	events := []domain.Event{domain.NewEvent(domain.EventUpgradeProposed, "", caller, map[string]any{
		"proposal_id": proposal.ID,
		"version":     proposal.Version,
		"code_ref":    proposal.CodeRef.Hex(),
		"delay":       proposal.Delay.String(),
	})}
	return proposal, events, nil
}

// ExecuteUpgrade applies a proposal once its timelock has elapsed, bumping the
// protocol version and marking the proposal executed. A proposal executes at
// most once.
func (g *Governor) ExecuteUpgrade(ctx context.Context, caller common.Address, proposalID uint64) ([]domain.Event, error) {
	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("governor: execute upgrade: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return nil, err
	}
	if caller != state.Admin {
		return nil, domain.ErrUnauthorized
	}

	proposal, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, domain.ErrProposalNotFound
	}
	if proposal.Executed {
		return nil, domain.ErrAlreadyExecuted
	}
	now := time.Now().UTC()
	if !proposal.Executable(now) {
		return nil, domain.ErrTimelockNotElapsed
	}

	proposal.Executed = true
	proposal.ExecutedAt = &now
	state.Version = proposal.Version
	state.UpdatedAt = now

	if err := g.store.SaveStateWithProposal(ctx, state, proposal); err != nil {
		return nil, fmt.Errorf("governor: execute proposal %d: %w", proposalID, err)
	}

	g.logger.InfoContext(ctx, "upgrade executed",
		slog.Uint64("proposal_id", proposalID),
		slog.Int("version", int(proposal.Version)),
	)

	events := []domain.Event{domain.NewEvent(domain.EventUpgradeExecuted, "", caller, map[string]any{
		"proposal_id": proposalID,
		"version":     proposal.Version,
	})}
	return events, nil
}

// TransferAdmin nominates a new admin. The handover completes only when the
// nominee calls AcceptAdmin, so control cannot be transferred to an address
// nobody holds.
func (g *Governor) TransferAdmin(ctx context.Context, caller, nominee common.Address) ([]domain.Event, error) {
	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("governor: transfer admin: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return nil, err
	}
	if caller != state.Admin {
		return nil, domain.ErrUnauthorized
	}

	state.PendingAdmin = &nominee
	state.UpdatedAt = time.Now().UTC()
	if err := g.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("governor: transfer admin: %w", err)
	}

	events := []domain.Event{domain.NewEvent(domain.EventAdminTransferStarted, "", caller, map[string]any{
		"pending_admin": nominee.Hex(),
	})}
	return events, nil
}

// AcceptAdmin completes a pending admin handover. Only the nominee may call
// it.
func (g *Governor) AcceptAdmin(ctx context.Context, caller common.Address) ([]domain.Event, error) {
	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("governor: accept admin: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return nil, err
	}
	if state.PendingAdmin == nil || caller != *state.PendingAdmin {
		return nil, domain.ErrUnauthorized
	}

	previous := state.Admin
	state.Admin = caller
	state.PendingAdmin = nil
	state.UpdatedAt = time.Now().UTC()
	if err := g.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("governor: accept admin: %w", err)
	}

	g.logger.InfoContext(ctx, "admin changed",
		slog.String("previous", previous.Hex()),
		slog.String("admin", caller.Hex()),
	)

	events := []domain.Event{domain.NewEvent(domain.EventAdminChanged, "", caller, map[string]any{
		"previous_admin": previous.Hex(),
	})}
	return events, nil
}

// SetFeeBps updates the platform fee rate. Admin only; the rate may not
// exceed 100%.
func (g *Governor) SetFeeBps(ctx context.Context, caller common.Address, feeBps uint32) error {
	if feeBps > feeDenominator {
		return domain.ErrInvalidArgument
	}

	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return fmt.Errorf("governor: set fee: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return domain.ErrUnauthorized
	}

	state.FeeBps = feeBps
	state.UpdatedAt = time.Now().UTC()
	if err := g.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("governor: set fee: %w", err)
	}
	return nil
}

// SetBetBounds updates the min/max bet limits. Admin only.
func (g *Governor) SetBetBounds(ctx context.Context, caller common.Address, minBet, maxBet uint64) error {
	if minBet == 0 || maxBet < minBet {
		return domain.ErrInvalidArgument
	}

	unlock, err := g.locks.Acquire(ctx, configLockKey, g.params.LockTTL)
	if err != nil {
		return fmt.Errorf("governor: set bet bounds: %w", err)
	}
	defer unlock()

	state, err := g.State(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return domain.ErrUnauthorized
	}

	state.MinBet = minBet
	state.MaxBet = maxBet
	state.UpdatedAt = time.Now().UTC()
	if err := g.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("governor: set bet bounds: %w", err)
	}
	return nil
}

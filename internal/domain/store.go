package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their outcome pools.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	Update(ctx context.Context, market Market) error
	// UpdateWithBet commits a market update and a bet upsert atomically; it
	// backs PlaceBet so a bet row never exists without its pool increment.
	UpdateWithBet(ctx context.Context, market Market, bet Bet) error
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// ListResolvable returns markets eligible for an automatic resolution
	// attempt: closed, or active past their closing time, with fewer than
	// maxAttempts failed attempts.
	ListResolvable(ctx context.Context, now time.Time, maxAttempts int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore persists bets keyed by (market, bettor).
type BetStore interface {
	Get(ctx context.Context, marketID string, bettor common.Address) (Bet, error)
	Update(ctx context.Context, bet Bet) error
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// TreasuryStore persists the treasury singleton.
type TreasuryStore interface {
	Get(ctx context.Context) (Treasury, error)
	Save(ctx context.Context, t Treasury) error
}

// GovernanceStore persists the config singleton and its upgrade proposals.
type GovernanceStore interface {
	GetState(ctx context.Context) (ConfigState, error)
	SaveState(ctx context.Context, state ConfigState) error
	CreateProposal(ctx context.Context, p UpgradeProposal) error
	// CreateProposalWithState inserts a new proposal and commits the state
	// update atomically; it backs ProposeUpgrade so a proposal row and the
	// NextProposalID advance never land separately.
	CreateProposalWithState(ctx context.Context, state ConfigState, p UpgradeProposal) error
	GetProposal(ctx context.Context, id uint64) (UpgradeProposal, error)
	ListProposals(ctx context.Context) ([]UpgradeProposal, error)
	// SaveStateWithProposal commits a state update and a proposal update
	// atomically; it backs ExecuteUpgrade so the version bump and the
	// executed flag never land separately.
	SaveStateWithProposal(ctx context.Context, state ConfigState, p UpgradeProposal) error
}

// ResolutionStore persists resolution records.
type ResolutionStore interface {
	Insert(ctx context.Context, r Resolution) error
	ListByMarket(ctx context.Context, marketID string) ([]Resolution, error)
	ListBefore(ctx context.Context, before time.Time) ([]Resolution, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

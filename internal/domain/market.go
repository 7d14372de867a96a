package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// monotonic: active -> closed -> resolved, or active -> cancelled. Resolved
// and cancelled are terminal.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "active"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Market is a pari-mutuel prediction market over a discrete outcome list.
// Pools holds the staked total per outcome, index-aligned with Outcomes.
type Market struct {
	ID           string
	Creator      common.Address
	Oracle       common.Address
	Question     string
	SourcePostID string // social post whose replies drive auto-resolution
	Outcomes     []string
	Pools        []uint64
	Status       MarketStatus
	Version      uint32 // protocol version at creation
	FeeBps       uint32 // fee rate snapshot at creation; resolve and claim share it

	CreatedAt  time.Time
	ClosesAt   time.Time
	ClosedAt   *time.Time
	ResolvedAt *time.Time

	WinningOutcome *int

	// Auto-resolution bookkeeping.
	ResolutionAttempts int
	LastAttemptAt      *time.Time
	LastAttemptError   string
}

// TotalPool returns the sum of all outcome pools.
func (m Market) TotalPool() uint64 {
	var total uint64
	for _, p := range m.Pools {
		total += p
	}
	return total
}

// LosingPool returns the sum of all pools except the one at winning.
func (m Market) LosingPool(winning int) uint64 {
	var total uint64
	for i, p := range m.Pools {
		if i != winning {
			total += p
		}
	}
	return total
}

// ValidOutcome reports whether idx indexes the outcome list.
func (m Market) ValidOutcome(idx int) bool {
	return idx >= 0 && idx < len(m.Outcomes)
}

// Expired reports whether an active market is past its closing time and
// therefore eligible for oracle-driven expiry.
func (m Market) Expired(now time.Time) bool {
	return m.Status == MarketStatusActive && !now.Before(m.ClosesAt)
}

// Bet is a bettor's cumulative stake on a single outcome of a market. Bets are
// keyed by (market, bettor); a bettor holds at most one bet per market.
type Bet struct {
	MarketID string
	Bettor   common.Address
	Outcome  int
	Amount   uint64
	Claimed  bool
	Payout   uint64 // recorded at claim time

	PlacedAt  time.Time
	ClaimedAt *time.Time
}

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the structured events emitted by mutating ledger entry
// points.
type EventType string

const (
	EventMarketCreated        EventType = "market.created"
	EventBetPlaced            EventType = "bet.placed"
	EventMarketClosed         EventType = "market.closed"
	EventMarketCancelled      EventType = "market.cancelled"
	EventMarketResolved       EventType = "market.resolved"
	EventWinningsClaimed      EventType = "winnings.claimed"
	EventUpgradeProposed      EventType = "upgrade.proposed"
	EventUpgradeExecuted      EventType = "upgrade.executed"
	EventAdminTransferStarted EventType = "admin.transfer_started"
	EventAdminChanged         EventType = "admin.changed"
	EventFeesCollected        EventType = "fees.collected"
	EventFeesWithdrawn        EventType = "fees.withdrawn"
)

// Event is a domain event describing one committed mutation. Ledger operations
// return events instead of dispatching them, keeping the core logic free of
// I/O side effects; the caller forwards them to the notifier and audit log.
type Event struct {
	Type     EventType      `json:"type"`
	MarketID string         `json:"market_id,omitempty"`
	Actor    common.Address `json:"actor"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(typ EventType, marketID string, actor common.Address, detail map[string]any) Event {
	return Event{
		Type:     typ,
		MarketID: marketID,
		Actor:    actor,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
}

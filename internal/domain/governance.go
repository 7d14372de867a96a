package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigState is the process-wide protocol configuration singleton. All
// mutation is admin-gated; other components only read from it.
type ConfigState struct {
	Initialized  bool
	Admin        common.Address
	PendingAdmin *common.Address // two-phase admin handover
	Version      uint32
	FeeBps       uint32
	MinBet       uint64
	MaxBet       uint64
	// NextProposalID is the id the next proposal will receive; ids are
	// monotonically increasing from 1.
	NextProposalID uint64
	UpdatedAt      time.Time
}

// UpgradeProposal is a timelocked protocol upgrade. A proposal may execute at
// most once, and only at or after ProposedAt + Delay. Executed proposals are
// immutable.
type UpgradeProposal struct {
	ID         uint64
	Version    uint32
	CodeRef    common.Hash
	ProposedAt time.Time
	Delay      time.Duration
	Executed   bool
	ExecutedAt *time.Time
}

// Executable reports whether the proposal's timelock has elapsed at now.
func (p UpgradeProposal) Executable(now time.Time) bool {
	return !now.Before(p.ProposedAt.Add(p.Delay))
}

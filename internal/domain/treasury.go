package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury is the fee custody ledger. Collected and Withdrawn are accounting
// counters; moving actual value is the market ledger's concern. The invariant
// Withdrawn <= Collected holds at all times.
type Treasury struct {
	Collected uint64
	Withdrawn uint64
	Admin     common.Address
	Version   uint32
	UpdatedAt time.Time
}

// Available returns the withdrawable balance.
func (t Treasury) Available() uint64 {
	return t.Collected - t.Withdrawn
}

// Package ledger implements the on-ledger core: the market state machine,
// pari-mutuel payout arithmetic, the fee treasury, and the timelocked config
// governor. All mutating operations are serialized per key through a
// domain.LockManager and return the domain events they committed.
package ledger

import "math/big"

// feeDenominator converts basis points to a fraction (1 bps = 1/10000).
const feeDenominator = 10_000

// Fee returns the platform fee taken from the losing pool at feeBps basis
// points, truncating toward zero.
func Fee(losingPool uint64, feeBps uint32) uint64 {
	fee := new(big.Int).SetUint64(losingPool)
	fee.Mul(fee, big.NewInt(int64(feeBps)))
	fee.Div(fee, big.NewInt(feeDenominator))
	return fee.Uint64()
}

// Payout computes a winning bettor's payout from the pool sizes and fee rate:
// the original stake plus a pro-rata share of the losing pool net of fees.
// All divisions truncate, so results are identical across implementations.
//
// A zero winning pool returns 0: with no winning stake there is nothing to
// apportion against, and the pool is treated as commercially unresolved.
// The result never exceeds betAmount + losingPool.
func Payout(betAmount, winningPool, losingPool uint64, feeBps uint32) uint64 {
	if winningPool == 0 {
		return 0
	}

	distributable := losingPool - Fee(losingPool, feeBps)

	// big.Int sidesteps overflow in betAmount * distributable while keeping
	// exact integer truncation.
	share := new(big.Int).SetUint64(betAmount)
	share.Mul(share, new(big.Int).SetUint64(distributable))
	share.Div(share, new(big.Int).SetUint64(winningPool))

	return betAmount + share.Uint64()
}

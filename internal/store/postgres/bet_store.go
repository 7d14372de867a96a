package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `market_id, bettor, outcome, amount, claimed, payout, placed_at, claimed_at`

// Get retrieves the bet a bettor holds on a market.
func (s *BetStore) Get(ctx context.Context, marketID string, bettor common.Address) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 AND bettor = $2`,
		marketID, bettor.Hex())
	bet, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet on %s: %w", marketID, err)
	}
	return bet, nil
}

// Update rewrites the mutable columns of an existing bet row.
func (s *BetStore) Update(ctx context.Context, bet domain.Bet) error {
	const query = `
		UPDATE bets SET
			outcome    = $3,
			amount     = $4,
			claimed    = $5,
			payout     = $6,
			claimed_at = $7
		WHERE market_id = $1 AND bettor = $2`

	tag, err := s.pool.Exec(ctx, query,
		bet.MarketID, bet.Bettor.Hex(), bet.Outcome, int64(bet.Amount),
		bet.Claimed, int64(bet.Payout), bet.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet on %s: %w", bet.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns all bets on a market.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY placed_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets on %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		bet            domain.Bet
		bettor         string
		amount, payout int64
	)
	err := row.Scan(
		&bet.MarketID, &bettor, &bet.Outcome, &amount,
		&bet.Claimed, &payout, &bet.PlacedAt, &bet.ClaimedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	bet.Bettor = common.HexToAddress(bettor)
	bet.Amount = uint64(amount)
	bet.Payout = uint64(payout)
	return bet, nil
}

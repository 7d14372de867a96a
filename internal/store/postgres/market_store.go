package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, creator, oracle, question, source_post_id,
	outcomes, pools, status, version, fee_bps, winning_outcome,
	resolution_attempts, last_attempt_at, last_attempt_error,
	created_at, closes_at, closed_at, resolved_at`

// Create inserts a new market row.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.pool.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// Update rewrites every mutable column of a market row.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	tag, err := s.pool.Exec(ctx, updateMarketQuery, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateWithBet commits the market update and the bet upsert in a single
// transaction so a pool increment and its bet row never land separately.
func (s *MarketStore) UpdateWithBet(ctx context.Context, m domain.Market, bet domain.Bet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update with bet: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateMarketQuery, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const upsertBet = `
		INSERT INTO bets (market_id, bettor, outcome, amount, claimed, payout, placed_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			outcome    = EXCLUDED.outcome,
			amount     = EXCLUDED.amount,
			claimed    = EXCLUDED.claimed,
			payout     = EXCLUDED.payout,
			claimed_at = EXCLUDED.claimed_at`
	if _, err := tx.Exec(ctx, upsertBet,
		bet.MarketID, bet.Bettor.Hex(), bet.Outcome, int64(bet.Amount),
		bet.Claimed, int64(bet.Payout), bet.PlacedAt, bet.ClaimedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert bet on %s: %w", bet.MarketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update with bet: %w", err)
	}
	return nil
}

// ListByStatus returns markets in the given status with pagination and
// optional creation-time filtering.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

// ListResolvable returns markets eligible for an automatic resolution
// attempt: closed, or active past their closing time, with attempt budget
// remaining.
func (s *MarketStore) ListResolvable(ctx context.Context, now time.Time, maxAttempts int) ([]domain.Market, error) {
	const query = `
		SELECT ` + marketCols + ` FROM markets
		WHERE resolution_attempts < $2
		  AND (status = 'closed' OR (status = 'active' AND closes_at <= $1))
		ORDER BY closes_at`
	return s.queryMarkets(ctx, query, now, maxAttempts)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

const updateMarketQuery = `
	UPDATE markets SET
		creator             = $2,
		oracle              = $3,
		question            = $4,
		source_post_id      = $5,
		outcomes            = $6,
		pools               = $7,
		status              = $8,
		version             = $9,
		fee_bps             = $10,
		winning_outcome     = $11,
		resolution_attempts = $12,
		last_attempt_at     = $13,
		last_attempt_error  = $14,
		created_at          = $15,
		closes_at           = $16,
		closed_at           = $17,
		resolved_at         = $18
	WHERE id = $1`

func marketArgs(m domain.Market) []any {
	return []any{
		m.ID, m.Creator.Hex(), m.Oracle.Hex(), m.Question, m.SourcePostID,
		m.Outcomes, poolsToInt64(m.Pools), string(m.Status), m.Version, m.FeeBps,
		m.WinningOutcome, m.ResolutionAttempts, m.LastAttemptAt, m.LastAttemptError,
		m.CreatedAt, m.ClosesAt, m.ClosedAt, m.ResolvedAt,
	}
}

// scanMarket scans one market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m               domain.Market
		creator, oracle string
		status          string
		pools           []int64
	)
	err := row.Scan(
		&m.ID, &creator, &oracle, &m.Question, &m.SourcePostID,
		&m.Outcomes, &pools, &status, &m.Version, &m.FeeBps, &m.WinningOutcome,
		&m.ResolutionAttempts, &m.LastAttemptAt, &m.LastAttemptError,
		&m.CreatedAt, &m.ClosesAt, &m.ClosedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Creator = common.HexToAddress(creator)
	m.Oracle = common.HexToAddress(oracle)
	m.Status = domain.MarketStatus(status)
	m.Pools = poolsToUint64(pools)
	return m, nil
}

func poolsToInt64(pools []uint64) []int64 {
	out := make([]int64, len(pools))
	for i, p := range pools {
		out[i] = int64(p)
	}
	return out
}

func poolsToUint64(pools []int64) []uint64 {
	out := make([]uint64, len(pools))
	for i, p := range pools {
		out[i] = uint64(p)
	}
	return out
}

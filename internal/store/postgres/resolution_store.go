package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a ResolutionStore backed by the given connection
// pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const resolutionCols = `id, market_id, outcome, method, confidence,
	team_a, team_b, mean_polarity, mean_confidence, sample_size,
	classified_count, justification, resolved_by, created_at`

// Insert appends a new resolution record.
func (s *ResolutionStore) Insert(ctx context.Context, r domain.Resolution) error {
	const query = `
		INSERT INTO resolutions (` + resolutionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.MarketID, r.Outcome, string(r.Method), r.Confidence,
		r.TeamA, r.TeamB, r.MeanPolarity, r.MeanConfidence, r.SampleSize,
		r.ClassifiedCount, r.Justification, r.ResolvedBy.Hex(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert resolution %s: %w", r.ID, err)
	}
	return nil
}

// ListByMarket returns all resolution records for a market.
func (s *ResolutionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Resolution, error) {
	const query = `
		SELECT ` + resolutionCols + ` FROM resolutions
		WHERE market_id = $1 ORDER BY created_at`
	return s.queryResolutions(ctx, query, marketID)
}

// ListBefore returns all resolution records created before the given time.
// The archiver uses it to collect records due for cold storage.
func (s *ResolutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error) {
	const query = `
		SELECT ` + resolutionCols + ` FROM resolutions
		WHERE created_at < $1 ORDER BY created_at`
	return s.queryResolutions(ctx, query, before)
}

func (s *ResolutionStore) queryResolutions(ctx context.Context, query string, args ...any) ([]domain.Resolution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolutions rows: %w", err)
	}
	return resolutions, nil
}

func scanResolution(row pgx.Row) (domain.Resolution, error) {
	var (
		r          domain.Resolution
		method     string
		resolvedBy string
	)
	err := row.Scan(
		&r.ID, &r.MarketID, &r.Outcome, &method, &r.Confidence,
		&r.TeamA, &r.TeamB, &r.MeanPolarity, &r.MeanConfidence, &r.SampleSize,
		&r.ClassifiedCount, &r.Justification, &resolvedBy, &r.CreatedAt,
	)
	if err != nil {
		return domain.Resolution{}, err
	}
	r.Method = domain.ResolutionMethod(method)
	r.ResolvedBy = common.HexToAddress(resolvedBy)
	return r, nil
}

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

// TreasuryStore implements domain.TreasuryStore using PostgreSQL. The
// treasury lives in a single-row table.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

// NewTreasuryStore creates a TreasuryStore backed by the given connection
// pool.
func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// Get returns the treasury singleton. A missing row reads as the zeroed
// treasury.
func (s *TreasuryStore) Get(ctx context.Context) (domain.Treasury, error) {
	const query = `SELECT collected, withdrawn, admin, version, updated_at FROM treasury WHERE id`

	var (
		t                    domain.Treasury
		collected, withdrawn int64
		admin                string
	)
	err := s.pool.QueryRow(ctx, query).Scan(&collected, &withdrawn, &admin, &t.Version, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Treasury{}, nil
	}
	if err != nil {
		return domain.Treasury{}, fmt.Errorf("postgres: get treasury: %w", err)
	}

	t.Collected = uint64(collected)
	t.Withdrawn = uint64(withdrawn)
	t.Admin = common.HexToAddress(admin)
	return t, nil
}

// Save upserts the treasury singleton.
func (s *TreasuryStore) Save(ctx context.Context, t domain.Treasury) error {
	const query = `
		INSERT INTO treasury (id, collected, withdrawn, admin, version, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			collected  = EXCLUDED.collected,
			withdrawn  = EXCLUDED.withdrawn,
			admin      = EXCLUDED.admin,
			version    = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(t.Collected), int64(t.Withdrawn), t.Admin.Hex(), t.Version, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save treasury: %w", err)
	}
	return nil
}

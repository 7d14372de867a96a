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

// GovernanceStore implements domain.GovernanceStore using PostgreSQL. The
// config state lives in a single-row table.
type GovernanceStore struct {
	pool *pgxpool.Pool
}

// NewGovernanceStore creates a GovernanceStore backed by the given connection
// pool.
func NewGovernanceStore(pool *pgxpool.Pool) *GovernanceStore {
	return &GovernanceStore{pool: pool}
}

// GetState returns the config singleton. A missing row reads as the
// zero-value, uninitialized state.
func (s *GovernanceStore) GetState(ctx context.Context) (domain.ConfigState, error) {
	const query = `
		SELECT initialized, admin, pending_admin, version, fee_bps,
		       min_bet, max_bet, next_proposal_id, updated_at
		FROM config_state WHERE id`

	var (
		state                domain.ConfigState
		admin                string
		pendingAdmin         *string
		minBet, maxBet, next int64
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&state.Initialized, &admin, &pendingAdmin, &state.Version, &state.FeeBps,
		&minBet, &maxBet, &next, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConfigState{}, nil
	}
	if err != nil {
		return domain.ConfigState{}, fmt.Errorf("postgres: get config state: %w", err)
	}

	state.Admin = common.HexToAddress(admin)
	if pendingAdmin != nil {
		addr := common.HexToAddress(*pendingAdmin)
		state.PendingAdmin = &addr
	}
	state.MinBet = uint64(minBet)
	state.MaxBet = uint64(maxBet)
	state.NextProposalID = uint64(next)
	return state, nil
}

// SaveState upserts the config singleton.
func (s *GovernanceStore) SaveState(ctx context.Context, state domain.ConfigState) error {
	_, err := s.pool.Exec(ctx, saveStateQuery, saveStateArgs(state)...)
	if err != nil {
		return fmt.Errorf("postgres: save config state: %w", err)
	}
	return nil
}

// CreateProposal inserts a new upgrade proposal.
func (s *GovernanceStore) CreateProposal(ctx context.Context, p domain.UpgradeProposal) error {
	const query = `
		INSERT INTO upgrade_proposals (id, version, code_ref, proposed_at, delay_ns, executed, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		int64(p.ID), p.Version, p.CodeRef.Hex(), p.ProposedAt,
		p.Delay.Nanoseconds(), p.Executed, p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal %d: %w", p.ID, err)
	}
	return nil
}

// CreateProposalWithState inserts a new proposal and upserts the config state
// in one transaction so the proposal row and the NextProposalID advance never
// land separately.
func (s *GovernanceStore) CreateProposalWithState(ctx context.Context, state domain.ConfigState, p domain.UpgradeProposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create proposal with state: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertProposal = `
		INSERT INTO upgrade_proposals (id, version, code_ref, proposed_at, delay_ns, executed, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, insertProposal,
		int64(p.ID), p.Version, p.CodeRef.Hex(), p.ProposedAt,
		p.Delay.Nanoseconds(), p.Executed, p.ExecutedAt,
	); err != nil {
		return fmt.Errorf("postgres: create proposal %d: %w", p.ID, err)
	}

	if _, err := tx.Exec(ctx, saveStateQuery, saveStateArgs(state)...); err != nil {
		return fmt.Errorf("postgres: save config state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create proposal with state: %w", err)
	}
	return nil
}

// GetProposal retrieves an upgrade proposal by ID.
func (s *GovernanceStore) GetProposal(ctx context.Context, id uint64) (domain.UpgradeProposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, version, code_ref, proposed_at, delay_ns, executed, executed_at
		 FROM upgrade_proposals WHERE id = $1`, int64(id))
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UpgradeProposal{}, domain.ErrNotFound
		}
		return domain.UpgradeProposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return p, nil
}

// ListProposals returns all upgrade proposals ordered by ID.
func (s *GovernanceStore) ListProposals(ctx context.Context) ([]domain.UpgradeProposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, version, code_ref, proposed_at, delay_ns, executed, executed_at
		 FROM upgrade_proposals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []domain.UpgradeProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return proposals, nil
}

// SaveStateWithProposal commits a state update and a proposal update in one
// transaction so the version bump and the executed flag never land
// separately.
func (s *GovernanceStore) SaveStateWithProposal(ctx context.Context, state domain.ConfigState, p domain.UpgradeProposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save state with proposal: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, saveStateQuery, saveStateArgs(state)...); err != nil {
		return fmt.Errorf("postgres: save config state: %w", err)
	}

	const updateProposal = `
		UPDATE upgrade_proposals SET executed = $2, executed_at = $3 WHERE id = $1`
	tag, err := tx.Exec(ctx, updateProposal, int64(p.ID), p.Executed, p.ExecutedAt)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save state with proposal: %w", err)
	}
	return nil
}

const saveStateQuery = `
	INSERT INTO config_state (
		id, initialized, admin, pending_admin, version, fee_bps,
		min_bet, max_bet, next_proposal_id, updated_at
	) VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		initialized      = EXCLUDED.initialized,
		admin            = EXCLUDED.admin,
		pending_admin    = EXCLUDED.pending_admin,
		version          = EXCLUDED.version,
		fee_bps          = EXCLUDED.fee_bps,
		min_bet          = EXCLUDED.min_bet,
		max_bet          = EXCLUDED.max_bet,
		next_proposal_id = EXCLUDED.next_proposal_id,
		updated_at       = EXCLUDED.updated_at`

func saveStateArgs(state domain.ConfigState) []any {
	var pendingAdmin *string
	if state.PendingAdmin != nil {
		hex := state.PendingAdmin.Hex()
		pendingAdmin = &hex
	}
	return []any{
		state.Initialized, state.Admin.Hex(), pendingAdmin, state.Version, state.FeeBps,
		int64(state.MinBet), int64(state.MaxBet), int64(state.NextProposalID), state.UpdatedAt,
	}
}

func scanProposal(row pgx.Row) (domain.UpgradeProposal, error) {
	var (
		p       domain.UpgradeProposal
		id      int64
		codeRef string
		delayNS int64
	)
	err := row.Scan(&id, &p.Version, &codeRef, &p.ProposedAt, &delayNS, &p.Executed, &p.ExecutedAt)
	if err != nil {
		return domain.UpgradeProposal{}, err
	}
	p.ID = uint64(id)
	p.CodeRef = common.HexToHash(codeRef)
	p.Delay = time.Duration(delayNS)
	return p, nil
}

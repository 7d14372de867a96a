package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// GovernanceStore is an in-memory domain.GovernanceStore.
type GovernanceStore struct {
	mu        sync.RWMutex
	state     domain.ConfigState
	proposals map[uint64]domain.UpgradeProposal
}

// NewGovernanceStore creates a GovernanceStore with an empty, uninitialized
// config state.
func NewGovernanceStore() *GovernanceStore {
	return &GovernanceStore{proposals: make(map[uint64]domain.UpgradeProposal)}
}

func (s *GovernanceStore) GetState(ctx context.Context) (domain.ConfigState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

func (s *GovernanceStore) SaveState(ctx context.Context, state domain.ConfigState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

func (s *GovernanceStore) CreateProposal(ctx context.Context, p domain.UpgradeProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.proposals[p.ID] = p
	return nil
}

func (s *GovernanceStore) CreateProposalWithState(ctx context.Context, state domain.ConfigState, p domain.UpgradeProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.proposals[p.ID] = p
	s.state = state
	return nil
}

func (s *GovernanceStore) GetProposal(ctx context.Context, id uint64) (domain.UpgradeProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return domain.UpgradeProposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *GovernanceStore) ListProposals(ctx context.Context) ([]domain.UpgradeProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UpgradeProposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *GovernanceStore) SaveStateWithProposal(ctx context.Context, state domain.ConfigState, p domain.UpgradeProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.state = state
	s.proposals[p.ID] = p
	return nil
}

// TreasuryStore is an in-memory domain.TreasuryStore holding the singleton.
type TreasuryStore struct {
	mu    sync.RWMutex
	state domain.Treasury
}

// NewTreasuryStore creates a TreasuryStore with a zeroed treasury.
func NewTreasuryStore() *TreasuryStore {
	return &TreasuryStore{}
}

func (s *TreasuryStore) Get(ctx context.Context) (domain.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

func (s *TreasuryStore) Save(ctx context.Context, t domain.Treasury) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = t
	return nil
}

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
	"github.com/klashlabs/klash-engine/internal/store/memory"
)

func newGovernor(t *testing.T, minDelay time.Duration) *Governor {
	t.Helper()
	return NewGovernor(memory.NewGovernanceStore(), memory.NewLockManager(), GovernorParams{
		FeeBps:   250,
		MinBet:   10,
		MaxBet:   1_000_000,
		MinDelay: minDelay,
	}, testLogger())
}

func TestGovernorInitializeOnce(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()

	// State is unavailable before initialization.
	_, err := g.State(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, g.Initialize(ctx, admin))

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, state.Admin)
	assert.Equal(t, uint32(1), state.Version)
	assert.Equal(t, uint32(250), state.FeeBps)
	assert.Equal(t, uint64(1), state.NextProposalID)

	assert.ErrorIs(t, g.Initialize(ctx, alice), domain.ErrAlreadyInitialized)
}

// flakyGovernanceStore fails a configurable number of calls before delegating
// to the wrapped in-memory store.
type flakyGovernanceStore struct {
	*memory.GovernanceStore
	getStateFailures int
	proposalFailures int
}

func (s *flakyGovernanceStore) GetState(ctx context.Context) (domain.ConfigState, error) {
	if s.getStateFailures > 0 {
		s.getStateFailures--
		return domain.ConfigState{}, errors.New("connection reset")
	}
	return s.GovernanceStore.GetState(ctx)
}

func (s *flakyGovernanceStore) CreateProposalWithState(ctx context.Context, state domain.ConfigState, p domain.UpgradeProposal) error {
	if s.proposalFailures > 0 {
		s.proposalFailures--
		return errors.New("connection reset")
	}
	return s.GovernanceStore.CreateProposalWithState(ctx, state, p)
}

func TestInitializeReadErrorLeavesStateAlone(t *testing.T) {
	store := &flakyGovernanceStore{GovernanceStore: memory.NewGovernanceStore()}
	g := NewGovernor(store, memory.NewLockManager(), GovernorParams{
		FeeBps: 250,
		MinBet: 10,
		MaxBet: 1_000_000,
	}, testLogger())
	ctx := context.Background()

	require.NoError(t, g.Initialize(ctx, admin))
	_, _, err := g.ProposeUpgrade(ctx, admin, 2, common.Hash{}, 0)
	require.NoError(t, err)

	// A transient read failure must surface as an error, not fall through to
	// re-initialization over the live state.
	store.getStateFailures = 1
	err = g.Initialize(ctx, bob)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAlreadyInitialized)

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, state.Admin)
	assert.Equal(t, uint64(2), state.NextProposalID)
}

func TestProposeUpgradeWriteFailureLeavesNoOrphan(t *testing.T) {
	store := &flakyGovernanceStore{
		GovernanceStore:  memory.NewGovernanceStore(),
		proposalFailures: 1,
	}
	g := NewGovernor(store, memory.NewLockManager(), GovernorParams{
		FeeBps: 250,
		MinBet: 10,
		MaxBet: 1_000_000,
	}, testLogger())
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	_, _, err := g.ProposeUpgrade(ctx, admin, 2, common.Hash{}, 0)
	require.Error(t, err)

	// Neither the proposal row nor the ID advance survived the failed call.
	_, err = store.GetProposal(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.NextProposalID)

	// The retry reuses the same ID and succeeds.
	proposal, _, err := g.ProposeUpgrade(ctx, admin, 2, common.Hash{}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), proposal.ID)
}

func TestProposeUpgrade(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	codeRef := common.HexToHash("0xdeadbeef")

	_, _, err := g.ProposeUpgrade(ctx, alice, 2, codeRef, 48*time.Hour)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = g.ProposeUpgrade(ctx, admin, 2, codeRef, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInsufficientDelay)

	proposal, events, err := g.ProposeUpgrade(ctx, admin, 2, codeRef, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), proposal.ID)
	assert.Equal(t, uint32(2), proposal.Version)
	assert.Equal(t, domain.EventUpgradeProposed, events[0].Type)

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.NextProposalID)
}

func TestExecuteUpgradeTimelock(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	proposal, _, err := g.ProposeUpgrade(ctx, admin, 2, common.Hash{}, 48*time.Hour)
	require.NoError(t, err)

	_, err = g.ExecuteUpgrade(ctx, admin, proposal.ID)
	assert.ErrorIs(t, err, domain.ErrTimelockNotElapsed)

	_, err = g.ExecuteUpgrade(ctx, admin, 999)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)

	_, err = g.ExecuteUpgrade(ctx, alice, proposal.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExecuteUpgrade(t *testing.T) {
	// Zero minimum delay lets the proposal execute immediately.
	g := newGovernor(t, 0)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	proposal, _, err := g.ProposeUpgrade(ctx, admin, 7, common.Hash{}, 0)
	require.NoError(t, err)

	events, err := g.ExecuteUpgrade(ctx, admin, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventUpgradeExecuted, events[0].Type)

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), state.Version)

	// A proposal executes at most once.
	_, err = g.ExecuteUpgrade(ctx, admin, proposal.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
}

func TestAdminHandover(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	_, err := g.TransferAdmin(ctx, alice, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = g.TransferAdmin(ctx, admin, bob)
	require.NoError(t, err)

	// Only the nominee may accept.
	_, err = g.AcceptAdmin(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	events, err := g.AcceptAdmin(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.EventAdminChanged, events[0].Type)

	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob, state.Admin)
	assert.Nil(t, state.PendingAdmin)

	// The previous admin lost control.
	_, _, err = g.ProposeUpgrade(ctx, admin, 2, common.Hash{}, 48*time.Hour)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSetFeeBps(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	assert.ErrorIs(t, g.SetFeeBps(ctx, admin, 10_001), domain.ErrInvalidArgument)
	assert.ErrorIs(t, g.SetFeeBps(ctx, alice, 100), domain.ErrUnauthorized)

	require.NoError(t, g.SetFeeBps(ctx, admin, 100))
	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), state.FeeBps)
}

func TestSetBetBounds(t *testing.T) {
	g := newGovernor(t, 24*time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Initialize(ctx, admin))

	assert.ErrorIs(t, g.SetBetBounds(ctx, admin, 0, 100), domain.ErrInvalidArgument)
	assert.ErrorIs(t, g.SetBetBounds(ctx, admin, 100, 99), domain.ErrInvalidArgument)
	assert.ErrorIs(t, g.SetBetBounds(ctx, alice, 1, 100), domain.ErrUnauthorized)

	require.NoError(t, g.SetBetBounds(ctx, admin, 5, 500))
	state, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.MinBet)
	assert.Equal(t, uint64(500), state.MaxBet)
}

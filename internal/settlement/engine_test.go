package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
	"github.com/klashlabs/klash-engine/internal/ledger"
	"github.com/klashlabs/klash-engine/internal/store/memory"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	oracle  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReplies is a canned domain.ReplySource.
type fakeReplies struct {
	replies []domain.Reply
	err     error
}

func (f *fakeReplies) FetchReplies(ctx context.Context, postID string, limit int) ([]domain.Reply, error) {
	return f.replies, f.err
}

// fakeTeams is a canned domain.TeamClassifier.
type fakeTeams struct {
	cls domain.TeamClassification
	err error
}

func (f *fakeTeams) Classify(ctx context.Context, texts, candidateLabels []string) (domain.TeamClassification, error) {
	return f.cls, f.err
}

// fakeSentiment is a canned domain.SentimentScorer.
type fakeSentiment struct {
	scores domain.SentimentScores
	err    error
}

func (f *fakeSentiment) Score(ctx context.Context, texts []string) (domain.SentimentScores, error) {
	return f.scores, f.err
}

type engineHarness struct {
	engine      *Engine
	ledger      *ledger.Ledger
	treasury    *ledger.Treasury
	markets     *memory.MarketStore
	resolutions *memory.ResolutionStore
	audit       *memory.AuditStore
	replies     *fakeReplies
	teams       *fakeTeams
	sentiment   *fakeSentiment
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	logger := testLogger()
	locks := memory.NewLockManager()
	ctx := context.Background()

	governor := ledger.NewGovernor(memory.NewGovernanceStore(), locks, ledger.GovernorParams{
		FeeBps: 250,
		MinBet: 1,
		MaxBet: 1_000_000,
	}, logger)
	require.NoError(t, governor.Initialize(ctx, admin))

	treasury := ledger.NewTreasury(memory.NewTreasuryStore(), locks, 0, logger)
	require.NoError(t, treasury.Initialize(ctx, admin))

	bets := memory.NewBetStore()
	markets := memory.NewMarketStore(bets)
	lgr := ledger.NewLedger(markets, bets, nil, locks, governor, 0, logger)

	h := &engineHarness{
		ledger:      lgr,
		treasury:    treasury,
		markets:     markets,
		resolutions: memory.NewResolutionStore(),
		audit:       memory.NewAuditStore(),
		replies:     &fakeReplies{},
		teams:       &fakeTeams{},
		sentiment:   &fakeSentiment{},
	}
	h.engine = NewEngine(
		lgr, treasury, h.resolutions, h.audit,
		h.replies, h.teams, h.sentiment, nil,
		EngineParams{Oracle: oracle},
		logger,
	)
	return h
}

// createMarket opens a two-outcome market, stakes both sides, and closes it.
func (h *engineHarness) createMarket(t *testing.T, sourcePostID string) domain.Market {
	t.Helper()
	ctx := context.Background()

	market, _, err := h.ledger.CreateMarket(ctx, creator, oracle,
		"Will the home team win?", sourcePostID,
		[]string{"yes", "no"}, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, _, err = h.ledger.PlaceBet(ctx, alice, market.ID, 0, 300)
	require.NoError(t, err)
	_, _, err = h.ledger.PlaceBet(ctx, bob, market.ID, 1, 700)
	require.NoError(t, err)

	_, err = h.ledger.CloseMarket(ctx, creator, market.ID)
	require.NoError(t, err)

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	return got
}

// decisiveReplies returns n qualifying replies together with classifier output
// voting yesVotes of them for "yes" and the remainder for "no".
func decisiveReplies(n, yesVotes int) ([]domain.Reply, domain.TeamClassification, domain.SentimentScores) {
	replies := make([]domain.Reply, n)
	labels := make([]string, n)
	confidences := make([]float64, n)
	polarities := make([]float64, n)
	for i := range replies {
		replies[i] = domain.Reply{
			ID:              fmt.Sprintf("r%d", i),
			Text:            "the home side takes this one",
			AuthorFollowers: 50,
		}
		if i < yesVotes {
			labels[i] = "yes"
		} else {
			labels[i] = "no"
		}
		confidences[i] = 0.9
	}
	return replies,
		domain.TeamClassification{Labels: labels, Confidences: confidences},
		domain.SentimentScores{Labels: labels, Polarities: polarities, Confidences: confidences}
}

func TestResolveAutoRequiresSourcePost(t *testing.T) {
	h := newEngineHarness(t)
	market := h.createMarket(t, "")

	_, _, err := h.engine.ResolveAuto(context.Background(), market)
	assert.ErrorIs(t, err, domain.ErrManualResolutionRequired)
}

func TestResolveAutoRequiresTwoOutcomes(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	market, _, err := h.ledger.CreateMarket(ctx, creator, oracle, "q", "post-1",
		[]string{"a", "b", "c"}, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, _, err = h.engine.ResolveAuto(ctx, market)
	assert.ErrorIs(t, err, domain.ErrManualResolutionRequired)
}

func TestResolveAutoInsufficientData(t *testing.T) {
	h := newEngineHarness(t)
	market := h.createMarket(t, "post-1")

	replies, _, _ := decisiveReplies(MinSampleSize-1, 30)
	h.replies.replies = replies

	_, _, err := h.engine.ResolveAuto(context.Background(), market)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestResolveAutoTeamDecision(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	replies, cls, scores := decisiveReplies(60, 48) // 80% yes
	h.replies.replies = replies
	h.teams.cls = cls
	h.sentiment.scores = scores

	resolution, events, err := h.engine.ResolveAuto(ctx, market)
	require.NoError(t, err)

	assert.Equal(t, 0, resolution.Outcome)
	assert.Equal(t, domain.ResolutionMethodTeam, resolution.Method)
	assert.InDelta(t, 0.8, resolution.Confidence, 1e-9)
	assert.Equal(t, 60, resolution.SampleSize)
	assert.Equal(t, 60, resolution.ClassifiedCount)
	assert.Equal(t, oracle, resolution.ResolvedBy)

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, 0, *got.WinningOutcome)

	// The fee on the losing pool landed in the treasury.
	balance, err := h.treasury.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Fee(700, 250), balance.Collected)

	types := make([]domain.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Contains(t, types, domain.EventMarketResolved)
	assert.Contains(t, types, domain.EventFeesCollected)

	stored, err := h.resolutions.ListByMarket(ctx, market.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resolution.auto", entries[0].Event)
}

func TestResolveAutoExpiresActiveMarket(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	market, _, err := h.ledger.CreateMarket(ctx, creator, oracle, "q", "post-1",
		[]string{"yes", "no"}, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	replies, cls, scores := decisiveReplies(60, 48)
	h.replies.replies = replies
	h.teams.cls = cls
	h.sentiment.scores = scores

	_, _, err = h.engine.ResolveAuto(ctx, market)
	require.NoError(t, err)

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)
}

func TestResolveAutoUndecided(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	replies, cls, scores := decisiveReplies(60, 30) // dead even
	h.replies.replies = replies
	h.teams.cls = cls
	h.sentiment.scores = scores

	_, _, err := h.engine.ResolveAuto(ctx, market)
	assert.ErrorIs(t, err, domain.ErrManualResolutionRequired)

	// The market is untouched and still waiting for manual resolution.
	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, got.Status)
}

func TestResolveAutoClassifierFailure(t *testing.T) {
	h := newEngineHarness(t)
	market := h.createMarket(t, "post-1")

	replies, _, _ := decisiveReplies(60, 48)
	h.replies.replies = replies
	h.teams.err = fmt.Errorf("%w: boom", domain.ErrClassificationFailure)

	_, _, err := h.engine.ResolveAuto(context.Background(), market)
	assert.ErrorIs(t, err, domain.ErrClassificationFailure)
}

func TestResolveManual(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	justification := "Official match report confirms the home side won after extra time."

	_, _, err := h.engine.ResolveManual(ctx, creator, market.ID, 0, "too short")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// A non-privileged caller cannot resolve.
	_, _, err = h.engine.ResolveManual(ctx, alice, market.ID, 0, justification)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	resolution, _, err := h.engine.ResolveManual(ctx, creator, market.ID, 0, justification)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionMethodManual, resolution.Method)
	assert.Equal(t, float64(1), resolution.Confidence)
	assert.Equal(t, justification, resolution.Justification)
	assert.Equal(t, creator, resolution.ResolvedBy)

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resolution.manual", entries[0].Event)
}

func TestResolveManualJustificationCountsRunes(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	// 20 runes is 60 bytes: still too short.
	_, _, err := h.engine.ResolveManual(ctx, creator, market.ID, 0, strings.Repeat("判", 20))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = h.engine.ResolveManual(ctx, creator, market.ID, 0, strings.Repeat("判", 50))
	require.NoError(t, err)
}

// failingResolutionStore rejects every insert.
type failingResolutionStore struct {
	err error
}

func (s *failingResolutionStore) Insert(ctx context.Context, r domain.Resolution) error {
	return s.err
}

func (s *failingResolutionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Resolution, error) {
	return nil, nil
}

func (s *failingResolutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error) {
	return nil, nil
}

func TestResolveAutoRecordFailureAfterSettle(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	replies, cls, scores := decisiveReplies(60, 48)
	h.replies.replies = replies
	h.teams.cls = cls
	h.sentiment.scores = scores

	engine := NewEngine(
		h.ledger, h.treasury, &failingResolutionStore{err: errors.New("disk full")}, h.audit,
		h.replies, h.teams, h.sentiment, nil,
		EngineParams{Oracle: oracle},
		testLogger(),
	)

	// The market resolved on-ledger, so the attempt must report success even
	// though the resolution record was lost.
	resolution, _, err := engine.ResolveAuto(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 0, resolution.Outcome)

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)

	// The fee still landed and the lost record left an audit trail.
	balance, err := h.treasury.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Fee(700, 250), balance.Collected)

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	assert.Contains(t, events, "resolution.record_failed")
}

func TestResolveManualActiveMarket(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	market, _, err := h.ledger.CreateMarket(ctx, creator, oracle, "q", "post-1",
		[]string{"yes", "no"}, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, _, err = h.engine.ResolveManual(ctx, creator, market.ID, 0,
		"Official match report confirms the home side won after extra time.")
	assert.ErrorIs(t, err, domain.ErrMarketNotClosed)
}

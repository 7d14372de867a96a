package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// capturePublisher records every published event batch.
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func TestTickRecordsFailedAttempts(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	// No replies at all, so every attempt fails on insufficient data.
	scheduler := NewScheduler(h.markets, h.engine, nil, SchedulerParams{
		MaxAttempts: 2,
	}, testLogger())

	require.NoError(t, scheduler.Tick(ctx))

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ResolutionAttempts)
	assert.NotNil(t, got.LastAttemptAt)
	assert.Contains(t, got.LastAttemptError, domain.ErrInsufficientData.Error())

	require.NoError(t, scheduler.Tick(ctx))

	got, err = h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ResolutionAttempts)

	// The attempt budget is exhausted; the market drops out of the sweep.
	require.NoError(t, scheduler.Tick(ctx))

	got, err = h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ResolutionAttempts)
	assert.Equal(t, domain.MarketStatusClosed, got.Status)
}

func TestTickResolvesAndPublishes(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	market := h.createMarket(t, "post-1")

	replies, cls, scores := decisiveReplies(60, 48)
	h.replies.replies = replies
	h.teams.cls = cls
	h.sentiment.scores = scores

	publisher := &capturePublisher{}
	scheduler := NewScheduler(h.markets, h.engine, publisher, SchedulerParams{}, testLogger())

	require.NoError(t, scheduler.Tick(ctx))

	got, err := h.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)

	types := make([]domain.EventType, len(publisher.events))
	for i, ev := range publisher.events {
		types[i] = ev.Type
	}
	assert.Contains(t, types, domain.EventMarketResolved)

	// A resolved market is no longer swept.
	require.NoError(t, scheduler.Tick(ctx))
	resolutions, err := h.resolutions.ListByMarket(ctx, market.ID)
	require.NoError(t, err)
	assert.Len(t, resolutions, 1)
}

func TestTickEmptySweep(t *testing.T) {
	h := newEngineHarness(t)
	scheduler := NewScheduler(h.markets, h.engine, nil, SchedulerParams{}, testLogger())
	require.NoError(t, scheduler.Tick(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newEngineHarness(t)
	scheduler := NewScheduler(h.markets, h.engine, nil, SchedulerParams{
		Interval: 10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := scheduler.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

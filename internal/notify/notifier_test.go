package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
)

type captureSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *captureSender) Send(ctx context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return s.err
}

func (s *captureSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishFiltersEventTypes(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, []string{"market.resolved"}, testLogger())

	actor := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	events := []domain.Event{
		domain.NewEvent(domain.EventBetPlaced, "m1", actor, nil),
		domain.NewEvent(domain.EventMarketResolved, "m1", actor, map[string]any{
			"winning_outcome": 0,
			"fee":             uint64(17),
		}),
	}

	require.NoError(t, n.Publish(context.Background(), events))

	require.Len(t, sender.titles, 1)
	assert.Equal(t, "market.resolved", sender.titles[0])
	assert.Contains(t, sender.messages[0], "market: m1")
	assert.Contains(t, sender.messages[0], "fee: 17")
	assert.Contains(t, sender.messages[0], "winning_outcome: 0")
}

func TestPublishEmptyFilterAllowsAll(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	actor := common.Address{}
	events := []domain.Event{
		domain.NewEvent(domain.EventBetPlaced, "m1", actor, nil),
		domain.NewEvent(domain.EventMarketClosed, "m1", actor, nil),
	}

	require.NoError(t, n.Publish(context.Background(), events))
	assert.Len(t, sender.titles, 2)
}

func TestPublishSenderFailureDoesNotBlockOthers(t *testing.T) {
	failing := &captureSender{name: "failing", err: errors.New("webhook down")}
	working := &captureSender{name: "working"}
	n := NewNotifier([]Sender{failing, working}, nil, testLogger())

	events := []domain.Event{
		domain.NewEvent(domain.EventMarketResolved, "m1", common.Address{}, nil),
	}

	err := n.Publish(context.Background(), events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")

	// The working sender still got the notification.
	assert.Len(t, working.titles, 1)
}

func TestPublishNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	events := []domain.Event{
		domain.NewEvent(domain.EventMarketResolved, "m1", common.Address{}, nil),
	}
	assert.NoError(t, n.Publish(context.Background(), events))
}

// Package notify dispatches ledger events to operator channels. Events are
// delivered to all registered senders (Telegram, Discord) and can be filtered
// by event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier, e.g. "telegram".
	Name() string
}

// Notifier fans ledger events out to one or more Senders. It maintains a set
// of allowed event types; events outside the set are dropped. An empty set
// allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events are forwarded; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish delivers a batch of ledger events, applying the event-type filter
// to each. A failing sender does not block the others; failures are combined
// into the returned error.
func (n *Notifier) Publish(ctx context.Context, events []domain.Event) error {
	var errs []string
	for _, ev := range events {
		if len(n.events) > 0 && !n.events[ev.Type] {
			n.logger.DebugContext(ctx, "event filtered out",
				slog.String("event", string(ev.Type)),
			)
			continue
		}
		if err := n.dispatch(ctx, formatTitle(ev), formatMessage(ev)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: publish: %s", strings.Join(errs, "; "))
	}
	return nil
}

// dispatch sends one notification to every sender.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func formatTitle(ev domain.Event) string {
	return string(ev.Type)
}

// formatMessage renders an event's fields as stable key: value lines.
func formatMessage(ev domain.Event) string {
	var b strings.Builder
	if ev.MarketID != "" {
		fmt.Fprintf(&b, "market: %s\n", ev.MarketID)
	}
	fmt.Fprintf(&b, "actor: %s\n", ev.Actor.Hex())

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Detail[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

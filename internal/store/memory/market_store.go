// Package memory provides in-memory implementations of the store, cache,
// and lock interfaces. They back dev mode and the test suites; production
// uses the postgres and redis packages.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
	bets    *BetStore
}

// NewMarketStore creates a MarketStore. Bets placed through UpdateWithBet
// land in the given BetStore.
func NewMarketStore(bets *BetStore) *MarketStore {
	return &MarketStore{
		markets: make(map[string]domain.Market),
		bets:    bets,
	}
}

func (s *MarketStore) Create(ctx context.Context, market domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[market.ID] = cloneMarket(market)
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	market, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(market), nil
}

func (s *MarketStore) Update(ctx context.Context, market domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market.ID]; !ok {
		return domain.ErrNotFound
	}
	s.markets[market.ID] = cloneMarket(market)
	return nil
}

func (s *MarketStore) UpdateWithBet(ctx context.Context, market domain.Market, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market.ID]; !ok {
		return domain.ErrNotFound
	}
	s.markets[market.ID] = cloneMarket(market)
	s.bets.upsert(bet)
	return nil
}

func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status != status {
			continue
		}
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	sortMarkets(out)
	return paginate(out, opts), nil
}

func (s *MarketStore) ListResolvable(ctx context.Context, now time.Time, maxAttempts int) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.ResolutionAttempts >= maxAttempts {
			continue
		}
		if m.Status == domain.MarketStatusClosed || m.Expired(now) {
			out = append(out, cloneMarket(m))
		}
	}
	sortMarkets(out)
	return out, nil
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// BetStore is an in-memory domain.BetStore keyed by (market, bettor).
type BetStore struct {
	mu   sync.RWMutex
	bets map[betKey]domain.Bet
}

type betKey struct {
	marketID string
	bettor   common.Address
}

// NewBetStore creates a BetStore.
func NewBetStore() *BetStore {
	return &BetStore{bets: make(map[betKey]domain.Bet)}
}

func (s *BetStore) Get(ctx context.Context, marketID string, bettor common.Address) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bet, ok := s.bets[betKey{marketID, bettor}]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return bet, nil
}

func (s *BetStore) Update(ctx context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := betKey{bet.MarketID, bet.Bettor}
	if _, ok := s.bets[key]; !ok {
		return domain.ErrNotFound
	}
	s.bets[key] = bet
	return nil
}

func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Bet
	for key, bet := range s.bets {
		if key.marketID == marketID {
			out = append(out, bet)
		}
	}
	return out, nil
}

func (s *BetStore) upsert(bet domain.Bet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[betKey{bet.MarketID, bet.Bettor}] = bet
}

func cloneMarket(m domain.Market) domain.Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.Pools = append([]uint64(nil), m.Pools...)
	return out
}

func sortMarkets(markets []domain.Market) {
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.Before(markets[j].CreatedAt)
	})
}

func paginate(markets []domain.Market, opts domain.ListOpts) []domain.Market {
	if opts.Offset >= len(markets) {
		return nil
	}
	markets = markets[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(markets) {
		markets = markets[:opts.Limit]
	}
	return markets
}

package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/klashlabs/klash-engine/internal/domain"
	"github.com/klashlabs/klash-engine/internal/ledger"
)

// minJustificationLen is the minimum length of a manual-override
// justification.
const minJustificationLen = 50

// EngineParams configures a settlement engine.
type EngineParams struct {
	// Oracle is the identity the engine acts as on the ledger.
	Oracle common.Address
	// MaxReplies caps how many replies are fetched per attempt.
	MaxReplies int
	// ClassifyTimeout bounds each classifier call.
	ClassifyTimeout time.Duration
}

// Engine resolves markets: automatically from reply analysis, or manually by
// an authorized override. Every resolution, successful or not, leaves a
// resolution record and an audit entry behind.
type Engine struct {
	ledger      *ledger.Ledger
	treasury    *ledger.Treasury
	resolutions domain.ResolutionStore
	audit       domain.AuditStore
	replies     domain.ReplySource
	teams       domain.TeamClassifier
	sentiment   domain.SentimentScorer
	limiter     domain.RateLimiter
	params      EngineParams
	logger      *slog.Logger
}

// NewEngine creates an Engine with all required dependencies. The rate
// limiter may be nil, in which case classifier calls are not throttled.
func NewEngine(
	lgr *ledger.Ledger,
	treasury *ledger.Treasury,
	resolutions domain.ResolutionStore,
	audit domain.AuditStore,
	replies domain.ReplySource,
	teams domain.TeamClassifier,
	sentiment domain.SentimentScorer,
	limiter domain.RateLimiter,
	params EngineParams,
	logger *slog.Logger,
) *Engine {
	if params.MaxReplies <= 0 {
		params.MaxReplies = 200
	}
	if params.ClassifyTimeout <= 0 {
		params.ClassifyTimeout = 30 * time.Second
	}
	return &Engine{
		ledger:      lgr,
		treasury:    treasury,
		resolutions: resolutions,
		audit:       audit,
		replies:     replies,
		teams:       teams,
		sentiment:   sentiment,
		limiter:     limiter,
		params:      params,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// ResolveAuto runs one automatic resolution attempt against a market. It
// fetches and qualifies the reply set, runs both classifiers, applies the
// hybrid decision, and on a decisive outcome drives the market through the
// ledger and deposits the platform fee.
//
// Failure modes the caller should expect: domain.ErrInsufficientData when
// the qualifying sample is too small, domain.ErrManualResolutionRequired
// when the decision falls through to manual, and
// domain.ErrClassificationFailure when a classifier misbehaves.
func (e *Engine) ResolveAuto(ctx context.Context, market domain.Market) (domain.Resolution, []domain.Event, error) {
	if market.SourcePostID == "" {
		return domain.Resolution{}, nil, fmt.Errorf("settlement: market %s: %w: no source post", market.ID, domain.ErrManualResolutionRequired)
	}
	if len(market.Outcomes) != 2 {
		return domain.Resolution{}, nil, fmt.Errorf("settlement: market %s: %w: %d outcomes", market.ID, domain.ErrManualResolutionRequired, len(market.Outcomes))
	}

	replies, err := e.replies.FetchReplies(ctx, market.SourcePostID, e.params.MaxReplies)
	if err != nil {
		return domain.Resolution{}, nil, fmt.Errorf("settlement: fetch replies for %s: %w", market.ID, err)
	}

	qualified := Qualify(replies)
	if len(qualified) < MinSampleSize {
		return domain.Resolution{}, nil, fmt.Errorf("settlement: market %s: %w: %d of %d replies qualify", market.ID, domain.ErrInsufficientData, len(qualified), len(replies))
	}

	sig, err := e.analyze(ctx, market, qualified)
	if err != nil {
		return domain.Resolution{}, nil, err
	}

	decision := Decide(sig)

	e.logger.InfoContext(ctx, "decision computed",
		slog.String("market_id", market.ID),
		slog.String("method", string(decision.Method)),
		slog.Int("outcome", decision.Outcome),
		slog.Float64("confidence", decision.Confidence),
		slog.Int("sample_size", sig.SampleSize),
	)

	if decision.Method == domain.ResolutionMethodManual {
		return domain.Resolution{}, nil, fmt.Errorf("settlement: market %s: %w", market.ID, domain.ErrManualResolutionRequired)
	}

	events, err := e.settle(ctx, market, decision.Outcome)
	if err != nil {
		return domain.Resolution{}, nil, err
	}

	resolution := domain.Resolution{
		ID:              uuid.New().String(),
		MarketID:        market.ID,
		Outcome:         decision.Outcome,
		Method:          decision.Method,
		Confidence:      decision.Confidence,
		TeamA:           sig.TeamA,
		TeamB:           sig.TeamB,
		MeanPolarity:    sig.MeanPolarity,
		MeanConfidence:  sig.MeanConfidence,
		SampleSize:      sig.SampleSize,
		ClassifiedCount: sig.ClassifiedCount,
		ResolvedBy:      e.params.Oracle,
		CreatedAt:       time.Now().UTC(),
	}
	e.recordResolution(ctx, resolution)
	e.auditLog(ctx, "resolution.auto", map[string]any{
		"market_id":  market.ID,
		"outcome":    decision.Outcome,
		"method":     string(decision.Method),
		"confidence": decision.Confidence,
	})

	return resolution, events, nil
}

// ResolveManual records an operator-supplied outcome for a market the
// automatic path could not decide. The caller must pass the ledger's own
// authorization (creator or oracle) and supply a justification of at least
// minJustificationLen characters.
func (e *Engine) ResolveManual(ctx context.Context, caller common.Address, marketID string, outcome int, justification string) (domain.Resolution, []domain.Event, error) {
	if utf8.RuneCountInString(justification) < minJustificationLen {
		return domain.Resolution{}, nil, fmt.Errorf("%w: justification must be at least %d characters", domain.ErrInvalidArgument, minJustificationLen)
	}

	market, err := e.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, nil, err
	}

	events, err := e.settleAs(ctx, market, caller, outcome)
	if err != nil {
		return domain.Resolution{}, nil, err
	}

	resolution := domain.Resolution{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		Outcome:       outcome,
		Method:        domain.ResolutionMethodManual,
		Confidence:    1,
		Justification: justification,
		ResolvedBy:    caller,
		CreatedAt:     time.Now().UTC(),
	}
	e.recordResolution(ctx, resolution)
	e.auditLog(ctx, "resolution.manual", map[string]any{
		"market_id":     marketID,
		"outcome":       outcome,
		"resolved_by":   caller.Hex(),
		"justification": justification,
	})

	return resolution, events, nil
}

// analyze runs both classifiers over the qualified replies and aggregates
// their signals. Each call is rate limited and bounded by the classify
// timeout.
func (e *Engine) analyze(ctx context.Context, market domain.Market, qualified []domain.Reply) (Signals, error) {
	texts := make([]string, len(qualified))
	for i, r := range qualified {
		texts[i] = r.Text
	}

	if err := e.wait(ctx); err != nil {
		return Signals{}, fmt.Errorf("settlement: rate limit: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, e.params.ClassifyTimeout)
	cls, err := e.teams.Classify(cctx, texts, market.Outcomes)
	cancel()
	if err != nil {
		return Signals{}, fmt.Errorf("settlement: classify teams for %s: %w", market.ID, err)
	}

	if err := e.wait(ctx); err != nil {
		return Signals{}, fmt.Errorf("settlement: rate limit: %w", err)
	}
	sctx, cancel := context.WithTimeout(ctx, e.params.ClassifyTimeout)
	scores, err := e.sentiment.Score(sctx, texts)
	cancel()
	if err != nil {
		return Signals{}, fmt.Errorf("settlement: score sentiment for %s: %w", market.ID, err)
	}

	teamA, teamB, classified := AggregateTeam(cls, market.Outcomes[0], market.Outcomes[1])
	meanPolarity, meanConfidence := AggregateSentiment(scores)

	return Signals{
		TeamA:           teamA,
		TeamB:           teamB,
		MeanPolarity:    meanPolarity,
		MeanConfidence:  meanConfidence,
		SampleSize:      len(qualified),
		ClassifiedCount: classified,
	}, nil
}

// settle drives a market to resolved as the engine's oracle identity.
func (e *Engine) settle(ctx context.Context, market domain.Market, outcome int) ([]domain.Event, error) {
	return e.settleAs(ctx, market, e.params.Oracle, outcome)
}

// settleAs expires the market if it is still active past its closing time,
// resolves it to outcome, and deposits the platform fee.
func (e *Engine) settleAs(ctx context.Context, market domain.Market, caller common.Address, outcome int) ([]domain.Event, error) {
	var events []domain.Event

	if market.Expired(time.Now().UTC()) {
		expireEvents, err := e.ledger.ExpireMarket(ctx, e.params.Oracle, market.ID)
		if err != nil && !errors.Is(err, domain.ErrInvalidState) {
			return nil, err
		}
		events = append(events, expireEvents...)
	}

	fee, resolveEvents, err := e.ledger.ResolveMarket(ctx, caller, market.ID, outcome)
	if err != nil {
		return nil, err
	}
	events = append(events, resolveEvents...)

	// The market is resolved at this point; a failure from here on cannot be
	// retried because the market never reenters the sweep. Leave a
	// reconciliation trail instead of failing the attempt.
	feeEvents, err := e.treasury.DepositFees(ctx, caller, fee)
	if err != nil {
		e.logger.ErrorContext(ctx, "fee deposit failed after resolve",
			slog.String("market_id", market.ID),
			slog.Uint64("fee", fee),
			slog.String("error", err.Error()),
		)
		e.auditLog(ctx, "treasury.deposit_failed", map[string]any{
			"market_id": market.ID,
			"fee":       fee,
			"error":     err.Error(),
		})
		return events, nil
	}
	events = append(events, feeEvents...)

	return events, nil
}

// recordResolution persists a resolution record for an already-resolved
// market. Store failures are logged and audited, never returned: the market
// cannot be resolved a second time, so the caller must still see success.
func (e *Engine) recordResolution(ctx context.Context, resolution domain.Resolution) {
	if err := e.resolutions.Insert(ctx, resolution); err != nil {
		e.logger.ErrorContext(ctx, "resolution record failed",
			slog.String("market_id", resolution.MarketID),
			slog.Int("outcome", resolution.Outcome),
			slog.String("error", err.Error()),
		)
		e.auditLog(ctx, "resolution.record_failed", map[string]any{
			"market_id": resolution.MarketID,
			"outcome":   resolution.Outcome,
			"method":    string(resolution.Method),
			"error":     err.Error(),
		})
	}
}

// classifierRateKey is the shared rate-limit bucket for both classifier
// services.
const classifierRateKey = "classifier"

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx, classifierRateKey)
}

// auditLog writes an audit entry. Audit failures are logged but never fail
// the resolution that produced them.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

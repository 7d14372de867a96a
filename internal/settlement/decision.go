// Package settlement implements the off-ledger settlement engine: reply
// qualification, the hybrid team/sentiment decision algorithm, and the
// bounded-retry auto-resolution scheduler.
package settlement

import (
	"math"
	"unicode/utf8"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// Reply qualification and sample-size thresholds.
const (
	MinSampleSize      = 50
	minReplyLength     = 10
	minAuthorFollowers = 10
)

// Decision thresholds. Evaluated in precedence order: team dominance first,
// then raw sentiment, then the blended hybrid score, then manual fallback.
const (
	teamDominanceThreshold = 0.65
	polarityThreshold      = 0.3
	hybridThreshold        = 0.55

	sentimentConfidenceCap = 0.8
	hybridConfidenceCap    = 0.7

	teamWeight      = 0.6
	sentimentWeight = 0.4

	// minClassifyConfidence is the floor below which a team classification
	// counts as unclassified rather than a vote.
	minClassifyConfidence = 0.5
)

// Signals aggregates the two independent classification signals over one
// qualifying reply set. TeamA and TeamB are normalized to sum to 1 over the
// classified items (both zero when nothing classified).
type Signals struct {
	TeamA           float64
	TeamB           float64
	MeanPolarity    float64
	MeanConfidence  float64
	SampleSize      int
	ClassifiedCount int
}

// Decision is the output of the hybrid algorithm. Outcome is the winning
// outcome index, or domain.UndecidedOutcome when the decision falls through
// to manual resolution.
type Decision struct {
	Outcome    int
	Method     domain.ResolutionMethod
	Confidence float64
	Signals    Signals
}

// Qualify filters a reply set down to the replies the analysis may use:
// long enough to carry a stance, not a retweet, and from an author with a
// minimal follower count.
func Qualify(replies []domain.Reply) []domain.Reply {
	qualified := make([]domain.Reply, 0, len(replies))
	for _, r := range replies {
		if utf8.RuneCountInString(r.Text) < minReplyLength {
			continue
		}
		if r.IsRetweet {
			continue
		}
		if r.AuthorFollowers < minAuthorFollowers {
			continue
		}
		qualified = append(qualified, r)
	}
	return qualified
}

// AggregateTeam builds the team signal from a classification result. Labels
// matching outcomeA or outcomeB with confidence of at least
// minClassifyConfidence count as votes; everything else is unclassified.
// The returned fractions are normalized over the classified count.
func AggregateTeam(cls domain.TeamClassification, outcomeA, outcomeB string) (teamA, teamB float64, classified int) {
	var votesA, votesB int
	for i, label := range cls.Labels {
		if cls.Confidences[i] < minClassifyConfidence {
			continue
		}
		switch label {
		case outcomeA:
			votesA++
		case outcomeB:
			votesB++
		}
	}

	classified = votesA + votesB
	if classified == 0 {
		return 0, 0, 0
	}
	return float64(votesA) / float64(classified), float64(votesB) / float64(classified), classified
}

// AggregateSentiment builds the sentiment signal: mean polarity and mean
// confidence over all scored replies.
func AggregateSentiment(scores domain.SentimentScores) (meanPolarity, meanConfidence float64) {
	n := len(scores.Polarities)
	if n == 0 {
		return 0, 0
	}

	var totalPolarity, totalConfidence float64
	for i := range scores.Polarities {
		totalPolarity += scores.Polarities[i]
		totalConfidence += scores.Confidences[i]
	}
	return totalPolarity / float64(n), totalConfidence / float64(n)
}

// Decide applies the hybrid decision precedence to the aggregated signals.
// The first matching rule wins:
//
//  1. team A dominance  -> outcome A, method team
//  2. team B dominance  -> outcome B, method team
//  3. strong polarity   -> outcome by sign, method sentiment
//  4. blended hybrid    -> outcome by sign, method hybrid
//  5. fallthrough       -> undecided, method manual
//
// Outcome index 0 is the affirmative side (positive polarity), index 1 the
// negative side.
func Decide(sig Signals) Decision {
	teamTotal := sig.TeamA + sig.TeamB
	var ratioA, ratioB float64
	if teamTotal > 0 {
		ratioA = sig.TeamA / teamTotal
		ratioB = sig.TeamB / teamTotal
	}

	if ratioA > teamDominanceThreshold {
		return Decision{Outcome: 0, Method: domain.ResolutionMethodTeam, Confidence: ratioA, Signals: sig}
	}
	if ratioB > teamDominanceThreshold {
		return Decision{Outcome: 1, Method: domain.ResolutionMethodTeam, Confidence: ratioB, Signals: sig}
	}

	if math.Abs(sig.MeanPolarity) > polarityThreshold {
		outcome := 0
		if sig.MeanPolarity < 0 {
			outcome = 1
		}
		confidence := math.Min(sentimentConfidenceCap, math.Abs(sig.MeanPolarity)*2)
		return Decision{Outcome: outcome, Method: domain.ResolutionMethodSentiment, Confidence: confidence, Signals: sig}
	}

	skew := ratioA - ratioB // in [-1, 1]
	hybrid := teamWeight*skew + sentimentWeight*(sig.MeanPolarity*2)
	if math.Abs(hybrid) > hybridThreshold {
		outcome := 0
		if hybrid < 0 {
			outcome = 1
		}
		confidence := math.Min(hybridConfidenceCap, math.Abs(hybrid))
		return Decision{Outcome: outcome, Method: domain.ResolutionMethodHybrid, Confidence: confidence, Signals: sig}
	}

	return Decision{Outcome: domain.UndecidedOutcome, Method: domain.ResolutionMethodManual, Confidence: 0, Signals: sig}
}

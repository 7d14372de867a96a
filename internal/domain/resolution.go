package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ResolutionMethod identifies which branch of the hybrid decision produced an
// outcome.
type ResolutionMethod string

const (
	ResolutionMethodTeam      ResolutionMethod = "team"
	ResolutionMethodSentiment ResolutionMethod = "sentiment"
	ResolutionMethodHybrid    ResolutionMethod = "hybrid"
	ResolutionMethodManual    ResolutionMethod = "manual"
)

// UndecidedOutcome is the outcome index recorded when the decision algorithm
// falls through to manual resolution.
const UndecidedOutcome = -1

// Reply is a single social-media reply consumed from the feed-scan boundary.
// Replies are produced fresh for each resolution attempt and never persisted
// beyond the resolution record they feed.
type Reply struct {
	ID              string    `json:"id"`
	Author          string    `json:"author"`
	Text            string    `json:"text"`
	AuthorFollowers int       `json:"author_followers"`
	IsRetweet       bool      `json:"is_retweet"`
	Likes           int       `json:"likes"`
	Replies         int       `json:"replies"`
	CreatedAt       time.Time `json:"created_at"`
}

// Resolution is the audit record of a single market resolution, automated or
// manual. It captures both classification signals alongside the final
// decision so a resolution can be reviewed after the fact.
type Resolution struct {
	ID       string
	MarketID string
	Outcome  int // UndecidedOutcome when no decision was reached
	Method   ResolutionMethod

	Confidence      float64
	TeamA           float64
	TeamB           float64
	MeanPolarity    float64
	MeanConfidence  float64
	SampleSize      int
	ClassifiedCount int

	Justification string // manual overrides only, >= 50 chars
	ResolvedBy    common.Address
	CreatedAt     time.Time
}

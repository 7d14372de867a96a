package domain

import "context"

// TeamClassification is the response of the zero-shot team classifier. Labels
// and Confidences are aligned 1:1 with the input text order; a length mismatch
// against the input is a hard ErrClassificationFailure.
type TeamClassification struct {
	Labels      []string
	Confidences []float64
}

// SentimentScores is the response of the sentiment service. All three slices
// are aligned 1:1 with the input text order. Polarities are in [-1, 1] and
// Confidences in [0, 1].
type SentimentScores struct {
	Labels      []string
	Polarities  []float64
	Confidences []float64
}

// TeamClassifier classifies texts into one of the candidate labels.
type TeamClassifier interface {
	Classify(ctx context.Context, texts, candidateLabels []string) (TeamClassification, error)
}

// SentimentScorer scores the sentiment of each text.
type SentimentScorer interface {
	Score(ctx context.Context, texts []string) (SentimentScores, error)
}

// ReplySource fetches the replies to a social post. It is the boundary to the
// external search/scrape service.
type ReplySource interface {
	FetchReplies(ctx context.Context, postID string, limit int) ([]Reply, error)
}

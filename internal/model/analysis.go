package model

import "time"

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// AnalysisResult is the classification of a single message. There is at most
// one live result per message; re-analysis overwrites in place.
type AnalysisResult struct {
	MessageID          int
	SpamProbability    int // 0-100
	IsSpam             bool
	NeedsResponse      bool
	ResponseConfidence int // 0-100
	Sentiment          Sentiment
	PriorityLevel      Priority
	GeneratedReply     string
	Reasoning          string // distinguishes AI-derived from heuristic-derived results
	AnalysisVersion    string
	UpdatedAt          time.Time
}

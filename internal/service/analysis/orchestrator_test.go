package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxpilot/internal/ai"
	"inboxpilot/internal/model"
	"inboxpilot/internal/repository"
)

type memMessages struct {
	msgs map[int]*model.Message
}

func (m *memMessages) GetByID(_ context.Context, id int) (*model.Message, error) {
	msg, ok := m.msgs[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
	}
	return msg, nil
}

type memResults struct {
	upserts int
	byID    map[int]*model.AnalysisResult
}

func (m *memResults) Upsert(_ context.Context, res *model.AnalysisResult) error {
	if m.byID == nil {
		m.byID = make(map[int]*model.AnalysisResult)
	}
	m.upserts++
	cp := *res
	m.byID[res.MessageID] = &cp
	return nil
}

// fakeInference answers each sub-check by matching on the prompt text, the
// same way the real sidecar sees distinct prompts per check.
type fakeInference struct {
	up        bool
	spamJSON  string
	sentJSON  string
	respJSON  string
	replyText string
	err       error
}

func (f *fakeInference) Available(_ context.Context) bool { return f.up }

func (f *fakeInference) Complete(_ context.Context, prompt string, _ ai.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.Contains(prompt, "spam"):
		return f.spamJSON, nil
	case strings.Contains(prompt, "sentiment"):
		return f.sentJSON, nil
	case strings.Contains(prompt, "need a response"):
		return f.respJSON, nil
	case strings.Contains(prompt, "Draft a short reply"):
		return f.replyText, nil
	}
	return "", errors.New("unexpected prompt")
}

type capturedEvent struct {
	messageID int
	isSpam    bool
}

type memEvents struct {
	events []capturedEvent
}

func (m *memEvents) MessageAnalyzed(msg *model.Message, res *model.AnalysisResult) {
	m.events = append(m.events, capturedEvent{messageID: msg.ID, isSpam: res.IsSpam})
}

func newTestOrchestrator(msgs map[int]*model.Message, inf *fakeInference) (*Orchestrator, *memResults, *memEvents) {
	results := &memResults{}
	events := &memEvents{}
	o := NewOrchestrator(&memMessages{msgs: msgs}, results, inf, events, zap.NewNop())
	return o, results, events
}

func TestAnalyzeFallbackSpam(t *testing.T) {
	msgs := map[int]*model.Message{
		1: {
			ID:      1,
			UserID:  10,
			Sender:  "promo@spam.example.com",
			Subject: "YOU HAVE WON!!! CLAIM YOUR PRIZE",
			Content: "Free money, act now, click here for your lottery winnings.",
		},
	}
	o, results, events := newTestOrchestrator(msgs, &fakeInference{up: false})

	res, err := o.Analyze(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, res.IsSpam)
	assert.GreaterOrEqual(t, res.SpamProbability, 80)
	assert.Equal(t, model.PriorityLow, res.PriorityLevel)
	assert.Empty(t, res.GeneratedReply)
	assert.Contains(t, res.Reasoning, "heuristic:")
	assert.Equal(t, Version, res.AnalysisVersion)

	assert.Equal(t, 1, results.upserts)
	require.Len(t, events.events, 1)
	assert.True(t, events.events[0].isSpam)
}

func TestAnalyzeFallbackReplyFromTemplate(t *testing.T) {
	msgs := map[int]*model.Message{
		2: {
			ID:      2,
			UserID:  10,
			Sender:  "alice@example.com",
			Subject: "Quick question",
			Content: "Can you please send me the report? Are you available tomorrow?",
		},
	}
	o, _, _ := newTestOrchestrator(msgs, &fakeInference{up: false})

	res, err := o.Analyze(context.Background(), 2)
	require.NoError(t, err)

	assert.False(t, res.IsSpam)
	assert.True(t, res.NeedsResponse)
	assert.GreaterOrEqual(t, res.ResponseConfidence, 60)
	// AI down: reply comes from the sentiment template.
	assert.NotEmpty(t, res.GeneratedReply)
	assert.Contains(t, res.Reasoning, "heuristic:")
}

func TestAnalyzeAIPath(t *testing.T) {
	msgs := map[int]*model.Message{
		3: {
			ID:      3,
			UserID:  10,
			Sender:  "bob@example.com",
			Subject: "Service outage",
			Content: "This is unacceptable, the service has been down all morning.",
		},
	}
	inf := &fakeInference{
		up:        true,
		spamJSON:  `{"spam_probability": 5, "is_spam": false, "reasoning": "legitimate complaint"}`,
		sentJSON:  `{"sentiment": "negative", "reasoning": "frustrated customer"}`,
		respJSON:  `{"needs_response": true, "confidence": 95, "reasoning": "direct complaint"}`,
		replyText: "I'm very sorry about the outage. We're on it and I'll update you within the hour.",
	}
	o, results, _ := newTestOrchestrator(msgs, inf)

	res, err := o.Analyze(context.Background(), 3)
	require.NoError(t, err)

	assert.False(t, res.IsSpam)
	assert.Equal(t, 5, res.SpamProbability)
	assert.Equal(t, model.SentimentNegative, res.Sentiment)
	assert.True(t, res.NeedsResponse)
	assert.Equal(t, 95, res.ResponseConfidence)
	assert.Equal(t, model.PriorityHigh, res.PriorityLevel)
	assert.Equal(t, inf.replyText, res.GeneratedReply)
	assert.NotContains(t, res.Reasoning, "heuristic:")

	assert.Equal(t, 1, results.upserts)
}

func TestAnalyzeAIErrorDegradesToHeuristics(t *testing.T) {
	msgs := map[int]*model.Message{
		4: {
			ID:      4,
			UserID:  10,
			Sender:  "carol@example.com",
			Subject: "Thanks!",
			Content: "Thank you so much, this is great.",
		},
	}
	inf := &fakeInference{up: true, err: errors.New("inference service 5xx: 503")}
	o, _, _ := newTestOrchestrator(msgs, inf)

	res, err := o.Analyze(context.Background(), 4)
	require.NoError(t, err)

	// Every sub-check degraded; the analysis still completes.
	assert.Contains(t, res.Reasoning, "heuristic:")
	assert.Equal(t, model.SentimentPositive, res.Sentiment)
	assert.False(t, res.IsSpam)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	msgs := map[int]*model.Message{
		5: {ID: 5, UserID: 10, Sender: "a@example.com", Subject: "hello", Content: "just saying hi"},
	}
	o, results, _ := newTestOrchestrator(msgs, &fakeInference{up: false})

	first, err := o.Analyze(context.Background(), 5)
	require.NoError(t, err)
	second, err := o.Analyze(context.Background(), 5)
	require.NoError(t, err)

	// Two upserts, one row, identical verdicts.
	assert.Equal(t, 2, results.upserts)
	assert.Len(t, results.byID, 1)
	assert.Equal(t, first.IsSpam, second.IsSpam)
	assert.Equal(t, first.SpamProbability, second.SpamProbability)
	assert.Equal(t, first.Sentiment, second.Sentiment)
	assert.Equal(t, first.PriorityLevel, second.PriorityLevel)
}

func TestAnalyzeMissingMessage(t *testing.T) {
	o, results, _ := newTestOrchestrator(map[int]*model.Message{}, &fakeInference{up: false})

	_, err := o.Analyze(context.Background(), 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 0, results.upserts)
}

func TestComputePriority(t *testing.T) {
	tests := []struct {
		name          string
		isSpam        bool
		urgent        bool
		needsResponse bool
		confidence    int
		sentiment     model.Sentiment
		want          model.Priority
	}{
		{"spam always low", true, true, true, 100, model.SentimentNegative, model.PriorityLow},
		{"plain message is medium", false, false, false, 0, model.SentimentNeutral, model.PriorityMedium},
		{"urgent flag is high", false, true, false, 0, model.SentimentNeutral, model.PriorityHigh},
		{"confident response need is high", false, false, true, 85, model.SentimentNeutral, model.PriorityHigh},
		{"weak response need stays medium", false, false, true, 50, model.SentimentNeutral, model.PriorityMedium},
		{"negative sentiment pushes over", false, false, true, 50, model.SentimentNegative, model.PriorityHigh},
		{"positive nudge not enough", false, false, true, 50, model.SentimentPositive, model.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computePriority(tt.isSpam, tt.urgent, tt.needsResponse, tt.confidence, tt.sentiment)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristicSpamScore(t *testing.T) {
	clean := &model.Message{Subject: "Meeting notes", Content: "Attached are the notes from today."}
	score, why := spamScore(clean)
	assert.Zero(t, score)
	assert.Equal(t, "no spam signals", why)

	spammy := &model.Message{
		Subject: "WINNER!!! ACT NOW!!!",
		Content: "You have won the lottery. Claim your prize, 100% free.",
	}
	score, why = spamScore(spammy)
	assert.GreaterOrEqual(t, score, 80)
	assert.LessOrEqual(t, score, 95)
	assert.Contains(t, why, "all-caps subject")
}

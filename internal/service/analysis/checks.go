package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/ai"
	"inboxpilot/internal/model"
	"inboxpilot/pkg/metrics"
)

type spamVerdict struct {
	Probability int
	IsSpam      bool
	Reasoning   string
	FromAI      bool
}

type sentimentVerdict struct {
	Sentiment model.Sentiment
	Reasoning string
	FromAI    bool
}

type necessityVerdict struct {
	NeedsResponse bool
	Confidence    int
	Reasoning     string
	FromAI        bool
}

// isSpam derives from probability at this threshold unless the model
// explicitly overrides it.
const spamDeriveThreshold = 80

func (o *Orchestrator) complete(ctx context.Context, check, prompt string) (json.RawMessage, error) {
	start := time.Now()
	text, err := o.inference.Complete(ctx, prompt, ai.Options{MaxTokens: 256, Temperature: 0.1})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAICallLatency(check, status, time.Since(start))
	if err != nil {
		return nil, err
	}
	return ai.ExtractJSON(text), nil
}

func (o *Orchestrator) checkSpam(ctx context.Context, msg *model.Message, aiUp bool) spamVerdict {
	if aiUp {
		prompt := fmt.Sprintf(
			"Classify the following email for spam. Respond with a JSON object "+
				`{"spam_probability": 0-100, "is_spam": bool, "reasoning": "..."}.`+
				"\n\nFrom: %s\nSubject: %s\n\n%s",
			msg.Sender, msg.Subject, truncate(msg.Content, 2000),
		)

		raw, err := o.complete(ctx, "spam", prompt)
		if err == nil {
			var out struct {
				SpamProbability int    `json:"spam_probability"`
				IsSpam          *bool  `json:"is_spam"`
				Reasoning       string `json:"reasoning"`
			}
			// ExtractJSON 失败时返回空对象，这里拿到的就是零值
			if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
				prob := clamp(out.SpamProbability, 0, 100)
				isSpam := prob >= spamDeriveThreshold
				if out.IsSpam != nil {
					isSpam = *out.IsSpam
				}
				reasoning := out.Reasoning
				if reasoning == "" {
					reasoning = "spam: model returned no reasoning"
				}
				return spamVerdict{Probability: prob, IsSpam: isSpam, Reasoning: reasoning, FromAI: true}
			}
		}
		o.logger.Warn("Spam check degraded to heuristics",
			zap.Int("message_id", msg.ID),
			zap.Error(err),
		)
	}

	prob, hits := spamScore(msg)
	return spamVerdict{
		Probability: prob,
		IsSpam:      prob >= spamDeriveThreshold,
		Reasoning:   fmt.Sprintf("heuristic: spam score %d (%s)", prob, hits),
		FromAI:      false,
	}
}

func (o *Orchestrator) checkSentiment(ctx context.Context, msg *model.Message, aiUp bool) sentimentVerdict {
	if aiUp {
		prompt := fmt.Sprintf(
			"Determine the sender's sentiment in this email. Respond with a JSON object "+
				`{"sentiment": "positive"|"neutral"|"negative", "reasoning": "..."}.`+
				"\n\nSubject: %s\n\n%s",
			msg.Subject, truncate(msg.Content, 2000),
		)

		raw, err := o.complete(ctx, "sentiment", prompt)
		if err == nil {
			var out struct {
				Sentiment string `json:"sentiment"`
				Reasoning string `json:"reasoning"`
			}
			if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
				if s, ok := parseSentiment(out.Sentiment); ok {
					reasoning := out.Reasoning
					if reasoning == "" {
						reasoning = "sentiment: model returned no reasoning"
					}
					return sentimentVerdict{Sentiment: s, Reasoning: reasoning, FromAI: true}
				}
			}
		}
		o.logger.Warn("Sentiment check degraded to heuristics",
			zap.Int("message_id", msg.ID),
			zap.Error(err),
		)
	}

	s, why := sentimentScore(msg)
	return sentimentVerdict{
		Sentiment: s,
		Reasoning: "heuristic: " + why,
		FromAI:    false,
	}
}

func (o *Orchestrator) checkNecessity(ctx context.Context, msg *model.Message, aiUp bool) necessityVerdict {
	if aiUp {
		prompt := fmt.Sprintf(
			"Does this email need a response from the recipient? Respond with a JSON object "+
				`{"needs_response": bool, "confidence": 0-100, "reasoning": "..."}.`+
				"\n\nFrom: %s\nSubject: %s\n\n%s",
			msg.Sender, msg.Subject, truncate(msg.Content, 2000),
		)

		raw, err := o.complete(ctx, "necessity", prompt)
		if err == nil {
			var out struct {
				NeedsResponse bool   `json:"needs_response"`
				Confidence    int    `json:"confidence"`
				Reasoning     string `json:"reasoning"`
			}
			if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
				reasoning := out.Reasoning
				if reasoning == "" {
					reasoning = "response: model returned no reasoning"
				}
				return necessityVerdict{
					NeedsResponse: out.NeedsResponse,
					Confidence:    clamp(out.Confidence, 0, 100),
					Reasoning:     reasoning,
					FromAI:        true,
				}
			}
		}
		o.logger.Warn("Response-necessity check degraded to heuristics",
			zap.Int("message_id", msg.ID),
			zap.Error(err),
		)
	}

	needs, confidence, why := necessityScore(msg)
	return necessityVerdict{
		NeedsResponse: needs,
		Confidence:    confidence,
		Reasoning:     "heuristic: " + why,
		FromAI:        false,
	}
}

func parseSentiment(s string) (model.Sentiment, bool) {
	switch model.Sentiment(s) {
	case model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative:
		return model.Sentiment(s), true
	}
	return "", false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

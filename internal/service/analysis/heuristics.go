package analysis

import (
	"fmt"
	"strings"

	"inboxpilot/internal/model"
)

// Rule-based fallbacks used whenever the AI backend is unavailable or returns
// something unusable. Deliberately simple keyword scoring: functionally valid,
// and every verdict carries a "heuristic:" reasoning so consumers can tell it
// apart from an AI-derived one.

var spamKeywords = []string{
	"free money",
	"you have won",
	"winner",
	"lottery",
	"claim your prize",
	"limited time offer",
	"act now",
	"click here",
	"100% free",
	"no credit check",
	"earn extra cash",
	"miracle",
}

var negativeWords = []string{
	"disappointed", "unacceptable", "angry", "frustrated", "terrible",
	"awful", "complaint", "refund", "broken", "failed", "urgent", "problem",
}

var positiveWords = []string{
	"thanks", "thank you", "great", "awesome", "appreciate", "love",
	"excellent", "congratulations", "wonderful", "happy",
}

var questionPhrases = []string{
	"can you", "could you", "would you", "please let me know",
	"what do you think", "are you available", "when can", "how do",
}

func spamScore(msg *model.Message) (int, string) {
	text := strings.ToLower(msg.Subject + " " + msg.Content)

	score := 0
	var hits []string
	for _, kw := range spamKeywords {
		if strings.Contains(text, kw) {
			score += 25
			hits = append(hits, kw)
		}
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject != "" && subject == strings.ToUpper(subject) && strings.ToLower(subject) != subject {
		score += 15
		hits = append(hits, "all-caps subject")
	}
	if strings.Count(msg.Subject, "!") >= 3 {
		score += 10
		hits = append(hits, "excessive punctuation")
	}

	if score > 95 {
		score = 95
	}
	if len(hits) == 0 {
		return score, "no spam signals"
	}
	return score, strings.Join(hits, ", ")
}

func sentimentScore(msg *model.Message) (model.Sentiment, string) {
	text := strings.ToLower(msg.Subject + " " + msg.Content)

	neg := 0
	for _, w := range negativeWords {
		neg += strings.Count(text, w)
	}
	pos := 0
	for _, w := range positiveWords {
		pos += strings.Count(text, w)
	}

	switch {
	case neg > pos:
		return model.SentimentNegative, fmt.Sprintf("%d negative vs %d positive signals", neg, pos)
	case pos > neg:
		return model.SentimentPositive, fmt.Sprintf("%d positive vs %d negative signals", pos, neg)
	default:
		return model.SentimentNeutral, "no dominant sentiment signals"
	}
}

func necessityScore(msg *model.Message) (bool, int, string) {
	text := strings.ToLower(msg.Subject + " " + msg.Content)

	confidence := 0
	var signals []string

	if strings.Contains(msg.Content, "?") {
		confidence += 40
		signals = append(signals, "question mark")
	}
	for _, p := range questionPhrases {
		if strings.Contains(text, p) {
			confidence += 20
			signals = append(signals, p)
			break
		}
	}
	if strings.Contains(text, "please") {
		confidence += 15
		signals = append(signals, "please")
	}
	if strings.Contains(text, "asap") || strings.Contains(text, "as soon as possible") {
		confidence += 10
		signals = append(signals, "urgency phrase")
	}

	if confidence > 95 {
		confidence = 95
	}
	if len(signals) == 0 {
		return false, 20, "no response signals"
	}
	return confidence >= 40, confidence, strings.Join(signals, ", ")
}

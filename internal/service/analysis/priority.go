package analysis

import "inboxpilot/internal/model"

// Priority is a weighted composite over the analysis verdicts. Spam always
// forces low regardless of the score.
func computePriority(isSpam, urgent, needsResponse bool, confidence int, sentiment model.Sentiment) model.Priority {
	if isSpam {
		return model.PriorityLow
	}

	score := 50
	if urgent {
		score += 30
	}
	if needsResponse {
		if confidence >= 80 {
			score += 25
		} else {
			score += 15
		}
	}
	switch sentiment {
	case model.SentimentNegative:
		score += 15
	case model.SentimentPositive:
		score += 5
	}

	switch {
	case score >= 70:
		return model.PriorityHigh
	case score >= 40:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

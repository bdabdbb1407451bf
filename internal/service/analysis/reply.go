package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"inboxpilot/internal/ai"
	"inboxpilot/internal/model"
)

func toneFor(sentiment model.Sentiment) string {
	switch sentiment {
	case model.SentimentNegative:
		return "empathetic and apologetic"
	case model.SentimentPositive:
		return "warm and appreciative"
	default:
		return "professional and concise"
	}
}

// generateReply drafts a reply in a tone picked from the detected sentiment.
// Runs after the concurrent sub-checks since it depends on their output.
func (o *Orchestrator) generateReply(ctx context.Context, msg *model.Message, sentiment model.Sentiment, aiUp bool) string {
	tone := toneFor(sentiment)

	if aiUp {
		prompt := fmt.Sprintf(
			"Draft a short reply to this email. Tone: %s. Do not include a subject line. "+
				"Reply with the body text only.\n\nFrom: %s\nSubject: %s\n\n%s",
			tone, msg.Sender, msg.Subject, truncate(msg.Content, 2000),
		)

		text, err := o.inference.Complete(ctx, prompt, ai.Options{MaxTokens: 400, Temperature: 0.6})
		if err == nil {
			if reply := strings.TrimSpace(text); reply != "" {
				return reply
			}
		} else {
			o.logger.Warn("Reply generation degraded to template",
				zap.Int("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	// 模板兜底
	switch sentiment {
	case model.SentimentNegative:
		return "Thank you for reaching out, and I'm sorry about the trouble. I'm looking into this and will get back to you as soon as possible."
	case model.SentimentPositive:
		return "Thank you for your message! I'll follow up with you shortly."
	default:
		return "Thank you for your message. I'll review it and get back to you soon."
	}
}

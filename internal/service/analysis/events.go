package analysis

import (
	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/pkg/metrics"
	"inboxpilot/pkg/mq"
)

// RoutePublisher is the slice of the MQ publisher the event worker needs.
type RoutePublisher interface {
	Publish(routingKey string, payload any) error
}

// EventPublisher forwards analyzed-message events to the exchange through a
// bounded buffer drained by one background worker. A full buffer drops the
// event (counted) instead of blocking the analysis path.
type EventPublisher struct {
	publisher RoutePublisher
	ch        chan mq.MessageAnalyzedPayload
	done      chan struct{}
	logger    *zap.Logger
}

func NewEventPublisher(publisher RoutePublisher, buffer int, logger *zap.Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &EventPublisher{
		publisher: publisher,
		ch:        make(chan mq.MessageAnalyzedPayload, buffer),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go p.run()
	return p
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for payload := range p.ch {
		if err := p.publisher.Publish(mq.RouteMessageAnalyzed, payload); err != nil {
			p.logger.Error("Failed to publish analyzed event",
				zap.Int("message_id", payload.MessageID),
				zap.Error(err),
			)
		}
	}
}

// MessageAnalyzed enqueues one event. Never blocks the caller.
func (p *EventPublisher) MessageAnalyzed(msg *model.Message, res *model.AnalysisResult) {
	payload := mq.MessageAnalyzedPayload{
		MessageID:       msg.ID,
		UserID:          msg.UserID,
		IsSpam:          res.IsSpam,
		NeedsResponse:   res.NeedsResponse,
		Sentiment:       string(res.Sentiment),
		PriorityLevel:   string(res.PriorityLevel),
		AnalysisVersion: res.AnalysisVersion,
	}

	select {
	case p.ch <- payload:
	default:
		metrics.AnalyzedEventsDropped.Inc()
		p.logger.Warn("Analyzed event buffer full, dropping event",
			zap.Int("message_id", msg.ID),
		)
	}
}

// Close drains the buffer and stops the worker.
func (p *EventPublisher) Close() {
	close(p.ch)
	<-p.done
}

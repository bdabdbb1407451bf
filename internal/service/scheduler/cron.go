package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/service/automation"
	"inboxpilot/pkg/metrics"
	"inboxpilot/pkg/otel"
)

type UserStore interface {
	ListActiveUserIDs(ctx context.Context) ([]int, error)
}

type PolicyStore interface {
	GetAutomationPolicy(ctx context.Context, userID int) (*model.AutomationPolicy, error)
}

type MessageStore interface {
	GetUnanalyzed(ctx context.Context, userID int) ([]model.Message, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, messageID int) (*model.AnalysisResult, error)
}

type ActionApplier interface {
	Apply(ctx context.Context, policy *model.AutomationPolicy, msg *model.Message, result *model.AnalysisResult) (automation.Actions, error)
}

type Submitter interface {
	Submit(ctx context.Context, msg *model.Message, result *model.AnalysisResult)
}

type QueueDrainer interface {
	ProcessUserQueue(ctx context.Context, userID int) (model.QueueRunResult, error)
}

// Cron sweeps all users once per tick: analyze the unanalyzed backlog, apply
// automation, hand survivors to the notification batcher, drain the offline
// queue. Ticks are cooperative, not reentrant: a tick that finds a run in
// progress returns immediately with Skipped set.
type Cron struct {
	users    UserStore
	policies PolicyStore
	messages MessageStore
	analyzer Analyzer
	applier  ActionApplier
	batcher  Submitter
	queue    QueueDrainer
	workers  int
	logger   *zap.Logger

	processing atomic.Bool
}

func NewCron(
	users UserStore,
	policies PolicyStore,
	messages MessageStore,
	analyzer Analyzer,
	applier ActionApplier,
	batcher Submitter,
	queue QueueDrainer,
	workers int,
	logger *zap.Logger,
) *Cron {
	if workers <= 0 {
		workers = 4
	}
	return &Cron{
		users:    users,
		policies: policies,
		messages: messages,
		analyzer: analyzer,
		applier:  applier,
		batcher:  batcher,
		queue:    queue,
		workers:  workers,
		logger:   logger,
	}
}

// Tick runs one full sweep. Per-user failures become entries in the returned
// stats and never abort the run. The in-progress guard is always cleared,
// even when a worker panics.
func (c *Cron) Tick(ctx context.Context) model.RunStats {
	if !c.processing.CompareAndSwap(false, true) {
		c.logger.Info("Tick skipped, previous run still in progress")
		return model.RunStats{Skipped: true}
	}
	defer c.processing.Store(false)

	ctx, span := otel.StartSpan(ctx, "scheduler.Tick")
	defer span.End()

	stats := model.RunStats{StartedAt: time.Now()}
	var mu sync.Mutex

	userIDs, err := c.users.ListActiveUserIDs(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list users: %v", err))
		stats.Duration = time.Since(stats.StartedAt)
		c.logger.Error("Tick aborted, failed to list users", zap.Error(err))
		return stats
	}

	// 用户间并发，单用户内串行
	workers := c.workers
	if workers > len(userIDs) {
		workers = len(userIDs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				c.processUser(ctx, userID, &stats, &mu)
			}
		}()
	}
	for _, id := range userIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	stats.Duration = time.Since(stats.StartedAt)
	metrics.RecordCronRun(stats.Duration)

	c.logger.Info("Tick completed",
		zap.Duration("duration", stats.Duration),
		zap.Int("users_processed", stats.UsersProcessed),
		zap.Int("analyzed", stats.Analyzed),
		zap.Int("spam_detected", stats.SpamDetected),
		zap.Int("replies_sent", stats.RepliesSent),
		zap.Int("deleted", stats.Deleted),
		zap.Int("ops_processed", stats.OpsProcessed),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats
}

// processUser is fully isolated: any error or panic becomes one stats entry.
func (c *Cron) processUser(ctx context.Context, userID int, stats *model.RunStats, mu *sync.Mutex) {
	record := func(err error) {
		mu.Lock()
		stats.Errors = append(stats.Errors, fmt.Sprintf("user %d: %v", userID, err))
		mu.Unlock()
		c.logger.Error("User processing error",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}
	defer func() {
		if r := recover(); r != nil {
			record(fmt.Errorf("panic: %v", r))
		}
	}()

	policy, err := c.policies.GetAutomationPolicy(ctx, userID)
	if err != nil {
		record(fmt.Errorf("fetch policy: %w", err))
		return
	}

	msgs, err := c.messages.GetUnanalyzed(ctx, userID)
	if err != nil {
		record(fmt.Errorf("fetch unanalyzed: %w", err))
		return
	}

	for i := range msgs {
		msg := &msgs[i]

		result, err := c.analyzer.Analyze(ctx, msg.ID)
		if err != nil {
			record(fmt.Errorf("analyze message %d: %w", msg.ID, err))
			continue
		}

		mu.Lock()
		stats.Analyzed++
		if result.IsSpam {
			stats.SpamDetected++
		}
		mu.Unlock()

		actions, err := c.applier.Apply(ctx, policy, msg, result)
		if err != nil {
			record(err)
			continue
		}
		mu.Lock()
		if actions.Replied {
			stats.RepliesSent++
		}
		if actions.Deleted {
			stats.Deleted++
		}
		mu.Unlock()

		// 垃圾邮件和已删除的消息不推送
		if !actions.Deleted && !result.IsSpam {
			c.batcher.Submit(ctx, msg, result)
		}
	}

	queueResult, err := c.queue.ProcessUserQueue(ctx, userID)
	if err != nil {
		record(fmt.Errorf("drain queue: %w", err))
	}

	mu.Lock()
	stats.UsersProcessed++
	stats.OpsProcessed += queueResult.Processed
	mu.Unlock()
}

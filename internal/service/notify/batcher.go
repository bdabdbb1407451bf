package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/service/automation"
	"inboxpilot/pkg/metrics"
)

const (
	// DefaultWindow is how long a batch accumulates before its single flush.
	DefaultWindow = 10 * time.Minute
	// DefaultMinBatchSize is the size under which a flush sends a plain
	// single-message notification instead of batch framing.
	DefaultMinBatchSize = 2

	bodyMaxLen = 180
)

type Gateway interface {
	SendToUser(ctx context.Context, userID int, payload model.PushPayload) (sent int, failed int, err error)
}

type PrefsSource interface {
	GetNotificationPrefs(ctx context.Context, userID int) (*model.NotificationPrefs, error)
}

type batchKey struct {
	userID int
	group  string
}

type entry struct {
	messageID int
	sender    string
	subject   string
}

type batch struct {
	entries     []entry
	firstSeenAt time.Time
	timer       *time.Timer
	sender      string // set when the batch is sender-grouped
	categoryID  int    // set when the batch is category-grouped
}

// Batcher groups near-simultaneous notification candidates into one push per
// (user, category-or-sender) window. High-priority and urgent-keyword
// messages bypass batching; quiet hours suppress the push entirely. Pending
// batches live only in process memory: a restart loses them, which is an
// accepted best-effort trade since the messages stay visible in-app.
type Batcher struct {
	gateway      Gateway
	prefs        PrefsSource
	logger       *zap.Logger
	window       time.Duration
	minBatchSize int
	now          func() time.Time

	mu      sync.Mutex
	batches map[batchKey]*batch
}

func NewBatcher(gateway Gateway, prefs PrefsSource, window time.Duration, minBatchSize int, logger *zap.Logger) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if minBatchSize <= 0 {
		minBatchSize = DefaultMinBatchSize
	}
	return &Batcher{
		gateway:      gateway,
		prefs:        prefs,
		logger:       logger,
		window:       window,
		minBatchSize: minBatchSize,
		now:          time.Now,
		batches:      make(map[batchKey]*batch),
	}
}

// Submit routes one analyzed message into the push decision path. Fire and
// forget: send failures are logged and swallowed, a missed push is not
// user-durable.
func (b *Batcher) Submit(ctx context.Context, msg *model.Message, result *model.AnalysisResult) {
	prefs, err := b.prefs.GetNotificationPrefs(ctx, msg.UserID)
	if err != nil {
		b.logger.Warn("Failed to load notification prefs, using defaults",
			zap.Int("user_id", msg.UserID),
			zap.Error(err),
		)
		prefs = &model.NotificationPrefs{UserID: msg.UserID, Timezone: "UTC"}
	}

	if result.PriorityLevel == model.PriorityHigh || matchesUrgentKeyword(msg, prefs.UrgentKeywords) {
		b.sendImmediate(ctx, msg)
		return
	}

	if b.inQuietHours(prefs) {
		// 静音时段：不批、不发，消息在应用内仍然可见
		b.logger.Debug("Push suppressed by quiet hours",
			zap.Int("user_id", msg.UserID),
			zap.Int("message_id", msg.ID),
		)
		return
	}

	b.add(msg)
}

func matchesUrgentKeyword(msg *model.Message, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	text := strings.ToLower(msg.Subject + " " + msg.Content)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (b *Batcher) inQuietHours(prefs *model.NotificationPrefs) bool {
	if !prefs.QuietHoursEnabled {
		return false
	}

	window, err := automation.ParseWindow(prefs.QuietStart, prefs.QuietEnd)
	if err != nil {
		b.logger.Warn("Invalid quiet hours window, ignoring",
			zap.Int("user_id", prefs.UserID),
			zap.String("start", prefs.QuietStart),
			zap.String("end", prefs.QuietEnd),
		)
		return false
	}

	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return window.Contains(b.now().In(loc))
}

func groupFor(msg *model.Message) string {
	if msg.CategoryID != nil {
		return fmt.Sprintf("category:%d", *msg.CategoryID)
	}
	return "sender:" + strings.ToLower(msg.Sender)
}

// add inserts the message into its batch, starting the flush timer on first
// insertion. The timer fires exactly once per batch; flush removes the key,
// so a later message under the same key starts a fresh batch.
func (b *Batcher) add(msg *model.Message) {
	key := batchKey{userID: msg.UserID, group: groupFor(msg)}
	e := entry{messageID: msg.ID, sender: msg.Sender, subject: msg.Subject}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.batches[key]; ok {
		existing.entries = append(existing.entries, e)
		return
	}

	nb := &batch{
		entries:     []entry{e},
		firstSeenAt: b.now(),
	}
	if msg.CategoryID != nil {
		nb.categoryID = *msg.CategoryID
	} else {
		nb.sender = msg.Sender
	}
	nb.timer = time.AfterFunc(b.window, func() {
		b.flush(key)
	})
	b.batches[key] = nb
}

// flush sends and removes one batch. Flushing an absent key is a no-op, so
// the timer path and the manual drain path can race safely: whoever takes
// the key out of the map under the lock does the send.
func (b *Batcher) flush(key batchKey) {
	b.mu.Lock()
	batch, ok := b.batches[key]
	if ok {
		delete(b.batches, key)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(batch.entries) < b.minBatchSize {
		// 不够成批，按单条通知发
		e := batch.entries[0]
		b.send(ctx, key.userID, "single", model.PushPayload{
			Title: "New message from " + e.sender,
			Body:  capBody(e.subject),
			Badge: 1,
			Data: map[string]any{
				"type":       "message",
				"message_id": e.messageID,
			},
		})
		return
	}

	metrics.ObserveBatchSize(len(batch.entries))
	b.send(ctx, key.userID, "batch", composeBatchPayload(key, batch))
}

func composeBatchPayload(key batchKey, batch *batch) model.PushPayload {
	n := len(batch.entries)

	var title string
	switch {
	case batch.sender != "":
		title = fmt.Sprintf("%d new messages from %s", n, batch.sender)
	case batch.categoryID != 0:
		title = fmt.Sprintf("%d new messages in a followed category", n)
	default:
		title = fmt.Sprintf("%d new messages", n)
	}

	subjects := make([]string, 0, n)
	ids := make([]int, 0, n)
	for _, e := range batch.entries {
		subjects = append(subjects, e.subject)
		ids = append(ids, e.messageID)
	}

	data := map[string]any{
		"type":        "batch",
		"group":       key.group,
		"message_ids": ids,
	}
	if batch.categoryID != 0 {
		data["category_id"] = batch.categoryID
	}

	return model.PushPayload{
		Title: title,
		Body:  capBody(strings.Join(subjects, " · ")),
		Badge: n,
		Data:  data,
	}
}

func (b *Batcher) sendImmediate(ctx context.Context, msg *model.Message) {
	b.send(ctx, msg.UserID, "immediate", model.PushPayload{
		Title: "New message from " + msg.Sender,
		Body:  capBody(msg.Subject),
		Badge: 1,
		Data: map[string]any{
			"type":       "message",
			"message_id": msg.ID,
			"urgent":     true,
		},
	})
}

func (b *Batcher) send(ctx context.Context, userID int, kind string, payload model.PushPayload) {
	sent, failed, err := b.gateway.SendToUser(ctx, userID, payload)
	if err != nil {
		metrics.IncrementPushSend(kind, "error")
		b.logger.Error("Push send failed",
			zap.Int("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}
	metrics.IncrementPushSend(kind, "ok")
	b.logger.Info("Push sent",
		zap.Int("user_id", userID),
		zap.String("kind", kind),
		zap.Int("devices_sent", sent),
		zap.Int("devices_failed", failed),
	)
}

// DrainAll flushes every pending batch immediately. Called on shutdown so
// accumulated batches aren't lost with the process.
func (b *Batcher) DrainAll() {
	b.mu.Lock()
	keys := make([]batchKey, 0, len(b.batches))
	for key, batch := range b.batches {
		batch.timer.Stop()
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.flush(key)
	}
}

func capBody(s string) string {
	if len(s) <= bodyMaxLen {
		return s
	}
	return s[:bodyMaxLen-1] + "…"
}

package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/repository"
	"inboxpilot/internal/service/automation"
	"inboxpilot/pkg/mq"
	"inboxpilot/pkg/util"
)

type fakeMessages struct {
	byID map[int]*model.Message
}

func (f *fakeMessages) GetByID(_ context.Context, id int) (*model.Message, error) {
	msg, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
	}
	return msg, nil
}

type fakeResults struct {
	byID map[int]*model.AnalysisResult
	err  error
}

func (f *fakeResults) GetByMessageID(_ context.Context, messageID int) (*model.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[messageID], nil
}

type fakePolicies struct{}

func (f *fakePolicies) GetAutomationPolicy(_ context.Context, userID int) (*model.AutomationPolicy, error) {
	return &model.AutomationPolicy{UserID: userID}, nil
}

type fakeAnalyzer struct {
	calls int
	err   error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, messageID int) (*model.AnalysisResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.AnalysisResult{
		MessageID:     messageID,
		Sentiment:     model.SentimentNeutral,
		PriorityLevel: model.PriorityMedium,
	}, nil
}

type fakeApplier struct {
	applied int
	actions automation.Actions
}

func (f *fakeApplier) Apply(_ context.Context, _ *model.AutomationPolicy, _ *model.Message, _ *model.AnalysisResult) (automation.Actions, error) {
	f.applied++
	return f.actions, nil
}

type fakeBatcher struct {
	submitted int
}

func (f *fakeBatcher) Submit(_ context.Context, _ *model.Message, _ *model.AnalysisResult) {
	f.submitted++
}

type fakeDLQ struct {
	published []string
}

func (f *fakeDLQ) PublishToDLQ(routingKey string, payload []byte, originalError string) error {
	f.published = append(f.published, originalError)
	return nil
}

type handlerFixture struct {
	messages *fakeMessages
	results  *fakeResults
	analyzer *fakeAnalyzer
	applier  *fakeApplier
	batcher  *fakeBatcher
	dlq      *fakeDLQ
	handler  *MessageSyncedHandler
}

// newTestRedis returns a client pointing at a closed port. The deduper and
// retry counter fail open on redis errors, which is exactly the behavior
// these tests rely on: every event is treated as a first delivery.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	fx := &handlerFixture{
		messages: &fakeMessages{byID: map[int]*model.Message{}},
		results:  &fakeResults{byID: map[int]*model.AnalysisResult{}},
		analyzer: &fakeAnalyzer{},
		applier:  &fakeApplier{},
		batcher:  &fakeBatcher{},
		dlq:      &fakeDLQ{},
	}
	fx.handler = NewMessageSyncedHandler(
		fx.messages,
		fx.results,
		&fakePolicies{},
		fx.analyzer,
		fx.applier,
		fx.batcher,
		fx.dlq,
		util.NewRetryCounter(newTestRedis(t), time.Hour),
		util.NewDeduper(newTestRedis(t), time.Hour, zap.NewNop()),
		zap.NewNop(),
	)
	return fx
}

func syncedEvent(t *testing.T, messageID, userID int) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mq.MessageSyncedPayload{
		MessageID: messageID,
		UserID:    userID,
		SyncedAt:  time.Now(),
	})
	require.NoError(t, err)
	return raw
}

func TestHandleProcessesFreshMessage(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.messages.byID[1] = &model.Message{ID: 1, UserID: 10, Sender: "a@example.com"}

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.NoError(t, err)

	assert.Equal(t, 1, fx.analyzer.calls)
	assert.Equal(t, 1, fx.applier.applied)
	assert.Equal(t, 1, fx.batcher.submitted)
	assert.Empty(t, fx.dlq.published)
}

func TestHandleSkipsAlreadyAnalyzed(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.results.byID[1] = &model.AnalysisResult{MessageID: 1}

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.NoError(t, err)

	assert.Zero(t, fx.analyzer.calls)
	assert.Zero(t, fx.batcher.submitted)
}

func TestHandleMalformedPayloadGoesToDLQ(t *testing.T) {
	fx := newHandlerFixture(t)

	err := fx.handler.Handle(context.Background(), json.RawMessage(`{not json`))
	require.NoError(t, err) // poison message is acked, not requeued

	require.Len(t, fx.dlq.published, 1)
	assert.Zero(t, fx.analyzer.calls)
}

func TestHandleDeletedMessageIsAcked(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.analyzer.err = fmt.Errorf("analyze message 1: %w", repository.ErrNotFound)

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.NoError(t, err)
	assert.Empty(t, fx.dlq.published)
}

func TestHandleRetryableFailureIsRequeued(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.messages.byID[1] = &model.Message{ID: 1, UserID: 10}
	fx.analyzer.err = errors.New("inference service 5xx: 503")

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.Error(t, err) // nacked, MQ redelivers
	assert.Empty(t, fx.dlq.published)
}

func TestHandleNonRetryableFailureGoesToDLQ(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.messages.byID[1] = &model.Message{ID: 1, UserID: 10}
	fx.analyzer.err = errors.New("unexpected verdict shape")

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.NoError(t, err)
	require.Len(t, fx.dlq.published, 1)
	assert.Contains(t, fx.dlq.published[0], "unexpected verdict shape")
}

func TestHandleSpamIsNotSubmittedToBatcher(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.messages.byID[1] = &model.Message{ID: 1, UserID: 10}
	fx.applier.actions = automation.Actions{Deleted: true}

	err := fx.handler.Handle(context.Background(), syncedEvent(t, 1, 10))
	require.NoError(t, err)
	assert.Zero(t, fx.batcher.submitted)
}

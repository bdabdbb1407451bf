package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/service/automation"
)

type fakeUsers struct {
	ids []int
	err error
}

func (f *fakeUsers) ListActiveUserIDs(_ context.Context) ([]int, error) {
	return f.ids, f.err
}

type fakePolicies struct {
	errFor map[int]error
}

func (f *fakePolicies) GetAutomationPolicy(_ context.Context, userID int) (*model.AutomationPolicy, error) {
	if err, ok := f.errFor[userID]; ok {
		return nil, err
	}
	return &model.AutomationPolicy{UserID: userID}, nil
}

type fakeMessages struct {
	byUser map[int][]model.Message
}

func (f *fakeMessages) GetUnanalyzed(_ context.Context, userID int) ([]model.Message, error) {
	return f.byUser[userID], nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analyzed []int
	results  map[int]*model.AnalysisResult
	errFor   map[int]error
	panicFor map[int]bool
	block    chan struct{} // when set, Analyze waits until it's closed
}

func (f *fakeAnalyzer) Analyze(_ context.Context, messageID int) (*model.AnalysisResult, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panicFor[messageID] {
		panic(fmt.Sprintf("analyzer blew up on message %d", messageID))
	}
	if err, ok := f.errFor[messageID]; ok {
		return nil, err
	}

	f.mu.Lock()
	f.analyzed = append(f.analyzed, messageID)
	f.mu.Unlock()

	if res, ok := f.results[messageID]; ok {
		return res, nil
	}
	return &model.AnalysisResult{
		MessageID:     messageID,
		Sentiment:     model.SentimentNeutral,
		PriorityLevel: model.PriorityMedium,
	}, nil
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []int
	actions map[int]automation.Actions
}

func (f *fakeApplier) Apply(_ context.Context, _ *model.AutomationPolicy, msg *model.Message, _ *model.AnalysisResult) (automation.Actions, error) {
	f.mu.Lock()
	f.applied = append(f.applied, msg.ID)
	f.mu.Unlock()
	return f.actions[msg.ID], nil
}

type fakeBatcher struct {
	mu        sync.Mutex
	submitted []int
}

func (f *fakeBatcher) Submit(_ context.Context, msg *model.Message, _ *model.AnalysisResult) {
	f.mu.Lock()
	f.submitted = append(f.submitted, msg.ID)
	f.mu.Unlock()
}

type fakeDrainer struct {
	results map[int]model.QueueRunResult
}

func (f *fakeDrainer) ProcessUserQueue(_ context.Context, userID int) (model.QueueRunResult, error) {
	return f.results[userID], nil
}

type cronFixture struct {
	users    *fakeUsers
	messages *fakeMessages
	analyzer *fakeAnalyzer
	applier  *fakeApplier
	batcher  *fakeBatcher
	drainer  *fakeDrainer
	policies *fakePolicies
}

func newFixture() *cronFixture {
	return &cronFixture{
		users:    &fakeUsers{},
		messages: &fakeMessages{byUser: map[int][]model.Message{}},
		analyzer: &fakeAnalyzer{results: map[int]*model.AnalysisResult{}, errFor: map[int]error{}, panicFor: map[int]bool{}},
		applier:  &fakeApplier{actions: map[int]automation.Actions{}},
		batcher:  &fakeBatcher{},
		drainer:  &fakeDrainer{results: map[int]model.QueueRunResult{}},
		policies: &fakePolicies{errFor: map[int]error{}},
	}
}

func (fx *cronFixture) cron(workers int) *Cron {
	return NewCron(fx.users, fx.policies, fx.messages, fx.analyzer, fx.applier, fx.batcher, fx.drainer, workers, zap.NewNop())
}

func TestTickProcessesAllUsers(t *testing.T) {
	fx := newFixture()
	fx.users.ids = []int{1, 2}
	fx.messages.byUser[1] = []model.Message{
		{ID: 11, UserID: 1, Sender: "a@example.com"},
		{ID: 12, UserID: 1, Sender: "b@example.com"},
	}
	fx.messages.byUser[2] = []model.Message{
		{ID: 21, UserID: 2, Sender: "c@example.com"},
	}
	fx.drainer.results[1] = model.QueueRunResult{Processed: 4, Succeeded: 4}

	stats := fx.cron(2).Tick(context.Background())

	assert.False(t, stats.Skipped)
	assert.Equal(t, 2, stats.UsersProcessed)
	assert.Equal(t, 3, stats.Analyzed)
	assert.Equal(t, 4, stats.OpsProcessed)
	assert.Empty(t, stats.Errors)
	assert.ElementsMatch(t, []int{11, 12, 21}, fx.analyzer.analyzed)
	assert.ElementsMatch(t, []int{11, 12, 21}, fx.batcher.submitted)
}

func TestTickCountsAutomationOutcomes(t *testing.T) {
	fx := newFixture()
	fx.users.ids = []int{1}
	fx.messages.byUser[1] = []model.Message{
		{ID: 11, UserID: 1}, // gets auto-deleted
		{ID: 12, UserID: 1}, // gets auto-replied
		{ID: 13, UserID: 1}, // spam, but not deleted
		{ID: 14, UserID: 1}, // plain
	}
	fx.analyzer.results[11] = &model.AnalysisResult{MessageID: 11, IsSpam: true, Sentiment: model.SentimentNeutral, PriorityLevel: model.PriorityLow}
	fx.analyzer.results[13] = &model.AnalysisResult{MessageID: 13, IsSpam: true, Sentiment: model.SentimentNeutral, PriorityLevel: model.PriorityLow}
	fx.applier.actions[11] = automation.Actions{Deleted: true}
	fx.applier.actions[12] = automation.Actions{Replied: true}

	stats := fx.cron(1).Tick(context.Background())

	assert.Equal(t, 4, stats.Analyzed)
	assert.Equal(t, 2, stats.SpamDetected)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.RepliesSent)

	// Deleted and spam messages never reach the notification batcher.
	assert.ElementsMatch(t, []int{12, 14}, fx.batcher.submitted)
}

func TestTickSkipsWhenRunInProgress(t *testing.T) {
	fx := newFixture()
	fx.users.ids = []int{1}
	fx.messages.byUser[1] = []model.Message{{ID: 11, UserID: 1}}
	fx.analyzer.block = make(chan struct{})

	cron := fx.cron(1)

	done := make(chan model.RunStats, 1)
	go func() {
		done <- cron.Tick(context.Background())
	}()

	// Wait until the first run is inside the analyzer.
	require.Eventually(t, func() bool {
		return cron.processing.Load()
	}, time.Second, 5*time.Millisecond)

	second := cron.Tick(context.Background())
	assert.True(t, second.Skipped)
	assert.Zero(t, second.UsersProcessed)

	close(fx.analyzer.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.UsersProcessed)

	// Guard is released; the next run proceeds normally.
	fx.analyzer.block = nil
	third := cron.Tick(context.Background())
	assert.False(t, third.Skipped)
}

func TestTickIsolatesUserFailures(t *testing.T) {
	fx := newFixture()
	fx.users.ids = []int{1, 2}
	fx.policies.errFor[1] = errors.New("connection refused")
	fx.messages.byUser[2] = []model.Message{{ID: 21, UserID: 2}}

	stats := fx.cron(1).Tick(context.Background())

	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "user 1")
	assert.Equal(t, 1, stats.UsersProcessed)
	assert.Equal(t, []int{21}, fx.analyzer.analyzed)
}

func TestTickRecoversFromPanicAndClearsGuard(t *testing.T) {
	fx := newFixture()
	fx.users.ids = []int{1, 2}
	fx.messages.byUser[1] = []model.Message{{ID: 11, UserID: 1}}
	fx.messages.byUser[2] = []model.Message{{ID: 21, UserID: 2}}
	fx.analyzer.panicFor[11] = true

	cron := fx.cron(1)
	stats := cron.Tick(context.Background())

	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "panic")
	assert.Equal(t, []int{21}, fx.analyzer.analyzed)

	// The in-progress flag must be released even after a panic.
	assert.False(t, cron.processing.Load())
	again := cron.Tick(context.Background())
	assert.False(t, again.Skipped)
}

func TestTickListUsersFailure(t *testing.T) {
	fx := newFixture()
	fx.users.err = errors.New("connection refused")

	stats := fx.cron(2).Tick(context.Background())

	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "list users")
	assert.Zero(t, stats.UsersProcessed)
}

package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxpilot/internal/model"
)

type execMail struct {
	trashErr error
	replyErr error
	trashed  []string
	replies  []string
}

func (m *execMail) Trash(_ context.Context, accountID int, externalID string) error {
	if m.trashErr != nil {
		return m.trashErr
	}
	m.trashed = append(m.trashed, externalID)
	return nil
}

func (m *execMail) SendReply(_ context.Context, messageID int, content string, replyAll bool) error {
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, content)
	return nil
}

type execLocal struct {
	deleted []string
	err     error
}

func (l *execLocal) MarkDeleted(_ context.Context, userID int, externalID string) error {
	if l.err != nil {
		return l.err
	}
	l.deleted = append(l.deleted, externalID)
	return nil
}

type execReplies struct {
	count      int
	increments int
}

func (r *execReplies) RepliesToday(_ context.Context, userID int, _ time.Time) (int, error) {
	return r.count, nil
}

func (r *execReplies) Increment(_ context.Context, userID int, _ time.Time) error {
	r.increments++
	return nil
}

type execPrefs struct {
	timezone string
}

func (p *execPrefs) GetNotificationPrefs(_ context.Context, userID int) (*model.NotificationPrefs, error) {
	tz := p.timezone
	if tz == "" {
		tz = "UTC"
	}
	return &model.NotificationPrefs{UserID: userID, Timezone: tz}, nil
}

type executorFixture struct {
	mail    *execMail
	local   *execLocal
	replies *execReplies
	exec    *Executor
}

func newExecutorFixture() *executorFixture {
	fx := &executorFixture{
		mail:    &execMail{},
		local:   &execLocal{},
		replies: &execReplies{},
	}
	fx.exec = NewExecutor(fx.mail, fx.local, fx.replies, &execPrefs{}, zap.NewNop())
	fx.exec.now = func() time.Time { return tuesdayMorning }
	return fx
}

func spamMessage() *model.Message {
	return &model.Message{ID: 1, UserID: 1, AccountID: 5, ExternalID: "ext-1", Sender: "promo@spam.example.com"}
}

func spamResult() *model.AnalysisResult {
	return &model.AnalysisResult{MessageID: 1, IsSpam: true, SpamProbability: 95}
}

func TestApplyAutoDelete(t *testing.T) {
	fx := newExecutorFixture()
	policy := permissivePolicy()

	actions, err := fx.exec.Apply(context.Background(), policy, spamMessage(), spamResult())
	require.NoError(t, err)

	assert.True(t, actions.Deleted)
	assert.False(t, actions.Replied)
	assert.Equal(t, []string{"ext-1"}, fx.mail.trashed)
	assert.Equal(t, []string{"ext-1"}, fx.local.deleted)
}

func TestApplyAutoDeleteProviderFailure(t *testing.T) {
	fx := newExecutorFixture()
	fx.mail.trashErr = errors.New("mail provider 5xx: 502")

	actions, err := fx.exec.Apply(context.Background(), permissivePolicy(), spamMessage(), spamResult())
	require.Error(t, err)
	assert.False(t, actions.Deleted)
	assert.Empty(t, fx.local.deleted)
}

func TestApplyAutoDeleteLocalMirrorFailureIsSwallowed(t *testing.T) {
	fx := newExecutorFixture()
	fx.local.err = errors.New("connection refused")

	actions, err := fx.exec.Apply(context.Background(), permissivePolicy(), spamMessage(), spamResult())
	require.NoError(t, err)
	assert.True(t, actions.Deleted)
	assert.Equal(t, []string{"ext-1"}, fx.mail.trashed)
}

func TestApplyAutoReply(t *testing.T) {
	fx := newExecutorFixture()
	policy := permissivePolicy()

	msg := &model.Message{ID: 2, UserID: 1, ExternalID: "ext-2", Sender: "alice@example.com"}
	result := replyCandidate()
	result.GeneratedReply = "Thanks, I'll get back to you."

	actions, err := fx.exec.Apply(context.Background(), policy, msg, result)
	require.NoError(t, err)

	assert.True(t, actions.Replied)
	assert.Equal(t, []string{"Thanks, I'll get back to you."}, fx.mail.replies)
	assert.Equal(t, 1, fx.replies.increments)
}

func TestApplyAutoReplyPolicyRejectionIsSilent(t *testing.T) {
	fx := newExecutorFixture()
	policy := permissivePolicy()
	fx.replies.count = policy.MaxRepliesPerDay // limit already reached

	msg := &model.Message{ID: 2, UserID: 1, Sender: "alice@example.com"}
	result := replyCandidate()
	result.GeneratedReply = "draft"

	actions, err := fx.exec.Apply(context.Background(), policy, msg, result)
	require.NoError(t, err)
	assert.False(t, actions.Replied)
	assert.Empty(t, fx.mail.replies)
	assert.Zero(t, fx.replies.increments)
}

func TestApplyAutoReplyWithoutDraftIsSkipped(t *testing.T) {
	fx := newExecutorFixture()

	msg := &model.Message{ID: 2, UserID: 1, Sender: "alice@example.com"}
	result := replyCandidate() // no GeneratedReply set

	actions, err := fx.exec.Apply(context.Background(), permissivePolicy(), msg, result)
	require.NoError(t, err)
	assert.False(t, actions.Replied)
	assert.Empty(t, fx.mail.replies)
}

func TestApplySendFailureDoesNotBumpCounter(t *testing.T) {
	fx := newExecutorFixture()
	fx.mail.replyErr = errors.New("mail provider 5xx: 503")

	msg := &model.Message{ID: 2, UserID: 1, Sender: "alice@example.com"}
	result := replyCandidate()
	result.GeneratedReply = "draft"

	actions, err := fx.exec.Apply(context.Background(), permissivePolicy(), msg, result)
	require.Error(t, err)
	assert.False(t, actions.Replied)
	assert.Zero(t, fx.replies.increments)
}

func TestApplyBusinessHoursUseUserTimezone(t *testing.T) {
	fx := newExecutorFixture()
	fx.exec.prefs = &execPrefs{timezone: "Asia/Tokyo"}
	// 02:00 UTC Tuesday is 11:00 Tuesday in Tokyo: inside business hours.
	fx.exec.now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) }

	policy := permissivePolicy()
	policy.BusinessHoursOnly = true

	msg := &model.Message{ID: 2, UserID: 1, Sender: "alice@example.com"}
	result := replyCandidate()
	result.GeneratedReply = "draft"

	actions, err := fx.exec.Apply(context.Background(), policy, msg, result)
	require.NoError(t, err)
	assert.True(t, actions.Replied)
}

package desk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/notify"
	"github.com/kalambet/escalator/internal/storage"
)

type recordingNotifier struct {
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Enqueue(_ context.Context, n notify.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T, persister lifecycle.Persister) (*Service, *recordingNotifier, *clock) {
	t.Helper()
	n := 0
	engine := lifecycle.New(knowledge.New(), lifecycle.Options{
		Persister: persister,
		NewID: func() string {
			n++
			return fmt.Sprintf("req-%d", n)
		},
	})
	notifier := &recordingNotifier{}
	clk := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := New(engine, notifier, Options{FollowUpMinutes: 30, Now: clk.now})
	return svc, notifier, clk
}

func escalate(t *testing.T, svc *Service, question string) model.HelpRequest {
	t.Helper()
	req, err := svc.Escalate(context.Background(), lifecycle.NewRequest{
		CustomerName: "Dana",
		Channel:      model.ChannelSMS,
		Question:     question,
	})
	require.NoError(t, err)
	return req
}

func TestEscalate_NotifiesCustomerAndSupervisor(t *testing.T) {
	svc, notifier, _ := newTestService(t, nil)

	req := escalate(t, svc, "Do you do balayage?")
	assert.Equal(t, model.StatusPending, req.Status)
	require.Len(t, req.History, 2)

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, notify.AudienceCustomer, notifier.sent[0].Audience)
	assert.Equal(t, "Dana", notifier.sent[0].Recipient)
	assert.Equal(t, "sms", notifier.sent[0].Channel)
	assert.Equal(t, lifecycle.MsgAcknowledgement, notifier.sent[0].Message)
	assert.Equal(t, notify.AudienceSupervisor, notifier.sent[1].Audience)
	assert.Equal(t, "Hey, I need help answering 'Do you do balayage?'.", notifier.sent[1].Message)
}

func TestEscalate_RequiresQuestion(t *testing.T) {
	svc, notifier, _ := newTestService(t, nil)

	_, err := svc.Escalate(context.Background(), lifecycle.NewRequest{CustomerName: "Dana"})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, notifier.sent)
}

func TestSubmitResponse_ResolvedSendsAnswer(t *testing.T) {
	svc, notifier, _ := newTestService(t, nil)
	req := escalate(t, svc, "Do you do balayage?")
	notifier.sent = nil

	got, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Answer: "Yes, on weekdays.", Topic: "Color"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Yes, on weekdays.", notifier.sent[0].Message)

	kb, err := svc.ListKnowledgeBase(context.Background())
	require.NoError(t, err)
	require.Len(t, kb, 1)
	assert.Equal(t, "Color", kb[0].Topic)
}

func TestSubmitResponse_UnresolvedUsesDefaultFollowUp(t *testing.T) {
	svc, notifier, clk := newTestService(t, nil)
	req := escalate(t, svc, "Can I bring my dog?")
	notifier.sent = nil

	got, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Unresolved: true})
	require.NoError(t, err)
	require.NotNil(t, got.FollowUpAt)
	assert.True(t, got.FollowUpAt.Equal(clk.t.Add(30*time.Minute)))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t,
		"Thanks for staying with me while I gather more info. I'll check back in about 30 minutes. Please feel free to reply with any updates in the meantime.",
		notifier.sent[0].Message)
}

func TestSubmitResponse_UnresolvedExplicitMinutes(t *testing.T) {
	svc, notifier, clk := newTestService(t, nil)
	req := escalate(t, svc, "Can I bring my dog?")
	notifier.sent = nil

	minutes := 10
	got, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{
		Answer: "Checking with the owner.", Unresolved: true, FollowUpMinutes: &minutes,
	})
	require.NoError(t, err)
	require.NotNil(t, got.FollowUpAt)
	assert.True(t, got.FollowUpAt.Equal(clk.t.Add(10*time.Minute)))
	assert.Contains(t, notifier.sent[0].Message, "Checking with the owner. I'll check back in about 10 minutes.")
}

func TestSubmitResponse_ValidationSendsNothing(t *testing.T) {
	svc, notifier, _ := newTestService(t, nil)
	req := escalate(t, svc, "q?")
	notifier.sent = nil

	_, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Answer: "  "})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, notifier.sent)

	_, err = svc.SubmitResponse(context.Background(), "missing", lifecycle.Response{Answer: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMarkTimeout_SendsPatienceMessage(t *testing.T) {
	svc, notifier, _ := newTestService(t, nil)
	req := escalate(t, svc, "q?")
	notifier.sent = nil

	got, err := svc.MarkTimeout(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnresolved, got.Status)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0].Message, "follow up in about 30 minutes")
}

func TestMarkTimeout_SchedulesPromisedReminder(t *testing.T) {
	svc, notifier, clk := newTestService(t, nil)
	req := escalate(t, svc, "q?")
	start := clk.t

	got, err := svc.MarkTimeout(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FollowUpAt)
	assert.True(t, got.FollowUpAt.Equal(start.Add(30*time.Minute)))
	notifier.sent = nil

	clk.t = start.Add(2 * time.Hour)
	sent, err := svc.DispatchFollowUps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, msgReminder, notifier.sent[0].Message)
}

func TestDispatchFollowUps_SendsOnce(t *testing.T) {
	svc, notifier, clk := newTestService(t, nil)
	req := escalate(t, svc, "q?")
	_, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Unresolved: true})
	require.NoError(t, err)
	notifier.sent = nil

	sent, err := svc.DispatchFollowUps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "nothing is due yet")

	clk.t = clk.t.Add(31 * time.Minute)
	sent, err = svc.DispatchFollowUps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, msgReminder, notifier.sent[0].Message)

	got, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, got.FollowUpReminderSent)
	assert.Equal(t, lifecycle.MsgReminderSent, got.History[0].Message)

	sent, err = svc.DispatchFollowUps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestDispatchFollowUps_QueueFailureLeavesReminderPending(t *testing.T) {
	svc, notifier, clk := newTestService(t, nil)
	req := escalate(t, svc, "q?")
	_, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Unresolved: true})
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Hour)
	notifier.err = errors.New("outbox unavailable")

	sent, err := svc.DispatchFollowUps(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsCollaborator(err))
	assert.Zero(t, sent)

	got, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, got.FollowUpReminderSent)
}

func TestAsk_AnswersFromKnowledgeBaseOrEscalates(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	req := escalate(t, svc, "Do you open on Sundays?")
	_, err := svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Answer: "Yes, 10 to 4."})
	require.NoError(t, err)

	res, err := svc.Ask(context.Background(), lifecycle.NewRequest{CustomerName: "Eli", Question: "do you open on sundays"})
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, "Yes, 10 to 4.", res.Answer)
	assert.Nil(t, res.Request)

	res, err = svc.Ask(context.Background(), lifecycle.NewRequest{CustomerName: "Eli", Question: "Do you sell gift cards?"})
	require.NoError(t, err)
	assert.False(t, res.Answered)
	require.NotNil(t, res.Request)
	assert.Equal(t, model.StatusPending, res.Request.Status)
}

func TestSuggest(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	first := escalate(t, svc, "Do you sell shampoo?")
	_, ok, err := svc.Suggest(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, ok, "empty knowledge base")

	_, err = svc.SubmitResponse(context.Background(), first.ID, lifecycle.Response{Answer: "Yes, several brands.", Topic: "Products"})
	require.NoError(t, err)

	second := escalate(t, svc, "Which shampoo brands do you carry?")
	sug, ok, err := svc.Suggest(context.Background(), second.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, sug.Confident)
	assert.Equal(t, first.ID, sug.SourceRequestID)

	_, _, err = svc.Suggest(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.List(context.Background(), "closed")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, _, _ := newTestService(t, store)
	req := escalate(t, svc, "Do you open on Sundays?")
	_, err = svc.SubmitResponse(context.Background(), req.ID, lifecycle.Response{Answer: "Yes."})
	require.NoError(t, err)

	restored, _, _ := newTestService(t, nil)
	require.NoError(t, restored.Load(context.Background(), store))

	got, err := restored.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)

	kb, err := restored.ListKnowledgeBase(context.Background())
	require.NoError(t, err)
	require.Len(t, kb, 1)
	assert.Equal(t, req.ID, kb[0].SourceRequestID)
}

type failingSource struct{}

func (failingSource) ListRequests(context.Context, model.Status) ([]model.HelpRequest, error) {
	return nil, errors.New("db offline")
}

func (failingSource) ListKnowledge(context.Context) ([]model.KnowledgeEntry, error) {
	return nil, nil
}

func TestLoad_WrapsSourceFailure(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	err := svc.Load(context.Background(), failingSource{})
	assert.True(t, model.IsCollaborator(err))
}

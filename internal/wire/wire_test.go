package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/escalator/internal/model"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeRequests_SnakeAndCamel(t *testing.T) {
	payload := []byte(`[
		{"id":"a","customer_name":"Ana","channel":"sms","question":"q1","status":"resolved",
		 "created_at":"2026-04-01T10:00:00Z","resolved_at":"2026-04-01T10:05:00Z",
		 "follow_up_reminder_sent":true,
		 "history":[{"timestamp":"2026-04-01T10:05:00Z","sender":"supervisor","message":"done"}]},
		{"id":"b","customerName":"Ben","channel":"PHONE","question":"q2","status":"unresolved",
		 "createdAt":"2026-04-02T10:00:00Z","escalatedAt":"2026-04-02T10:01:00Z",
		 "followUpAt":"2026-04-02T10:31:00Z"}
	]`)

	got, err := DecodeRequests(payload, now)
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "Ana", a.CustomerName)
	assert.Equal(t, model.ChannelSMS, a.Channel)
	assert.Equal(t, model.StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedAt)
	assert.True(t, a.ResolvedAt.Equal(time.Date(2026, 4, 1, 10, 5, 0, 0, time.UTC)))
	assert.True(t, a.EscalatedAt.Equal(a.CreatedAt), "escalated_at falls back to created_at")
	assert.True(t, a.FollowUpReminderSent)
	require.Len(t, a.History, 1)
	assert.Equal(t, model.SenderSupervisor, a.History[0].Sender)

	b := got[1]
	assert.Equal(t, "Ben", b.CustomerName)
	assert.Equal(t, model.ChannelPhone, b.Channel)
	assert.True(t, b.EscalatedAt.Equal(time.Date(2026, 4, 2, 10, 1, 0, 0, time.UTC)))
	require.NotNil(t, b.FollowUpAt)
	assert.Nil(t, b.ResolvedAt)
	assert.NotNil(t, b.History)
	assert.Empty(t, b.History)
}

func TestHelpRequest_Defaults(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"id":"x","question":"hello?",
		"history":[{"timestamp":"not a date","message":"legacy"}]}`), now)
	require.NoError(t, err)

	assert.Equal(t, "Unknown", r.CustomerName)
	assert.Equal(t, model.ChannelOther, r.Channel)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.True(t, r.CreatedAt.Equal(now))
	require.Len(t, r.History, 1)
	assert.True(t, r.History[0].Timestamp.Equal(now), "bad timestamps are replaced")
	assert.Equal(t, model.SenderSystem, r.History[0].Sender)
}

func TestSnakeCaseWinsOverCamel(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"id":"x","customer_name":"Snake","customerName":"Camel"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "Snake", r.CustomerName)

	r, err = DecodeRequest([]byte(`{"id":"x","customer_name":null,"customerName":"Camel"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "Camel", r.CustomerName)
}

func TestDecodeKnowledge(t *testing.T) {
	got, err := DecodeKnowledge([]byte(`[
		{"id":"k1","source_request_id":"a","topic":"Hours","question":"q","answer":"a","updated_at":"2026-04-01T10:00:00Z"},
		{"id":"k2","sourceRequestId":"b","topic":"Pricing","question":"q","answer":"b"}
	]`), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SourceRequestID)
	assert.Equal(t, "b", got[1].SourceRequestID)
	assert.True(t, got[1].UpdatedAt.Equal(now))
}

func TestDecode_RejectsMalformed(t *testing.T) {
	_, err := DecodeRequests([]byte(`{"id":"a"}`), now)
	assert.Error(t, err)

	_, err = DecodeKnowledge([]byte(`[{`), now)
	assert.Error(t, err)

	_, err = DecodeRequest([]byte(`[]`), now)
	assert.Error(t, err)
}

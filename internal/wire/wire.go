// Package wire maps JSON records received from a backend onto model types.
// Backends may use snake_case or camelCase keys; both are accepted and the
// snake_case spelling wins when both are present.
package wire

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kalambet/escalator/internal/model"
)

const unknownCustomer = "Unknown"

// DecodeRequests parses a JSON array of help requests. now fills in
// missing or unreadable timestamps.
func DecodeRequests(data []byte, now time.Time) ([]model.HelpRequest, error) {
	arr, err := parseArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]model.HelpRequest, 0, len(arr))
	for _, raw := range arr {
		out = append(out, HelpRequest(raw, now))
	}
	return out, nil
}

// DecodeRequest parses a single help request object.
func DecodeRequest(data []byte, now time.Time) (model.HelpRequest, error) {
	obj, err := parseObject(data)
	if err != nil {
		return model.HelpRequest{}, err
	}
	return HelpRequest(obj, now), nil
}

// DecodeKnowledge parses a JSON array of knowledge entries.
func DecodeKnowledge(data []byte, now time.Time) ([]model.KnowledgeEntry, error) {
	arr, err := parseArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]model.KnowledgeEntry, 0, len(arr))
	for _, raw := range arr {
		out = append(out, KnowledgeEntry(raw, now))
	}
	return out, nil
}

// HelpRequest maps one raw record.
func HelpRequest(raw gjson.Result, now time.Time) model.HelpRequest {
	r := model.HelpRequest{
		ID:              raw.Get("id").String(),
		CustomerName:    first(raw, "customer_name", "customerName").String(),
		CustomerContact: first(raw, "customer_contact", "customerContact").String(),
		Question:        raw.Get("question").String(),
		Status:          model.Status(raw.Get("status").String()),
		Answer:          raw.Get("answer").String(),
		Notes:           raw.Get("notes").String(),
		CreatedAt:       timeOr(first(raw, "created_at", "createdAt"), now),
		ResolvedAt:      optionalTime(first(raw, "resolved_at", "resolvedAt")),
		FollowUpAt:      optionalTime(first(raw, "follow_up_at", "followUpAt")),
	}
	r.FollowUpReminderSent = first(raw, "follow_up_reminder_sent", "followUpReminderSent").Bool()
	if r.CustomerName == "" {
		r.CustomerName = unknownCustomer
	}
	if ch := raw.Get("channel").String(); ch != "" {
		r.Channel = model.ParseChannel(ch)
	} else {
		r.Channel = model.ChannelOther
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	r.EscalatedAt = timeOr(first(raw, "escalated_at", "escalatedAt"), r.CreatedAt)

	history := raw.Get("history")
	r.History = make([]model.HistoryEntry, 0, len(history.Array()))
	history.ForEach(func(_, entry gjson.Result) bool {
		sender := model.Sender(entry.Get("sender").String())
		if sender == "" {
			sender = model.SenderSystem
		}
		r.History = append(r.History, model.HistoryEntry{
			Timestamp: timeOr(entry.Get("timestamp"), now),
			Sender:    sender,
			Message:   entry.Get("message").String(),
		})
		return true
	})
	return r
}

// KnowledgeEntry maps one raw record.
func KnowledgeEntry(raw gjson.Result, now time.Time) model.KnowledgeEntry {
	return model.KnowledgeEntry{
		ID:              raw.Get("id").String(),
		SourceRequestID: first(raw, "source_request_id", "sourceRequestId").String(),
		Topic:           raw.Get("topic").String(),
		Question:        raw.Get("question").String(),
		Answer:          raw.Get("answer").String(),
		UpdatedAt:       timeOr(first(raw, "updated_at", "updatedAt"), now),
	}
}

func parseArray(data []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	res := gjson.ParseBytes(data)
	if !res.IsArray() {
		return nil, fmt.Errorf("expected JSON array, got %s", res.Type)
	}
	return res.Array(), nil
}

func parseObject(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("invalid JSON payload")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return gjson.Result{}, fmt.Errorf("expected JSON object, got %s", res.Type)
	}
	return res, nil
}

// first returns the first key that is present and not null.
func first(raw gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := raw.Get(k); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func timeOr(v gjson.Result, fallback time.Time) time.Time {
	if t, ok := parseTime(v); ok {
		return t
	}
	return fallback
}

func optionalTime(v gjson.Result) *time.Time {
	if t, ok := parseTime(v); ok {
		return &t
	}
	return nil
}

func parseTime(v gjson.Result) (time.Time, bool) {
	if v.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Valid reports whether s is one of the known request states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusResolved, StatusUnresolved:
		return true
	}
	return false
}

type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelSMS   Channel = "sms"
	ChannelOther Channel = "other"
)

// ParseChannel maps free-form channel names onto the enumerated set.
// Anything unrecognised becomes ChannelOther.
func ParseChannel(s string) Channel {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelPhone:
		return ChannelPhone
	case ChannelSMS:
		return ChannelSMS
	}
	return ChannelOther
}

// Sender identifies who produced a history message.
type Sender string

const (
	SenderAgent      Sender = "agent"
	SenderSupervisor Sender = "supervisor"
	SenderSystem     Sender = "system"
	SenderCustomer   Sender = "customer"
)

type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
}

// HelpRequest is a customer question escalated to a supervisor.
// History is ordered newest first.
type HelpRequest struct {
	ID                   string         `json:"id"`
	CustomerName         string         `json:"customer_name"`
	CustomerContact      string         `json:"customer_contact,omitempty"`
	Channel              Channel        `json:"channel"`
	Question             string         `json:"question"`
	Status               Status         `json:"status"`
	Answer               string         `json:"answer,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	EscalatedAt          time.Time      `json:"escalated_at"`
	ResolvedAt           *time.Time     `json:"resolved_at"`
	History              []HistoryEntry `json:"history"`
	FollowUpAt           *time.Time     `json:"follow_up_at"`
	FollowUpReminderSent bool           `json:"follow_up_reminder_sent"`
}

// Clone returns a deep copy of r.
func (r HelpRequest) Clone() HelpRequest {
	out := r
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		copy(out.History, r.History)
	}
	out.ResolvedAt = cloneTime(r.ResolvedAt)
	out.FollowUpAt = cloneTime(r.FollowUpAt)
	return out
}

// AddHistory prepends a history entry.
func (r *HelpRequest) AddHistory(at time.Time, sender Sender, msg string) {
	entry := HistoryEntry{Timestamp: at, Sender: sender, Message: msg}
	r.History = append([]HistoryEntry{entry}, r.History...)
}

// KnowledgeEntry is a reusable answer learned from a resolved request.
// SourceRequestID is unique across the knowledge base.
type KnowledgeEntry struct {
	ID              string    `json:"id"`
	SourceRequestID string    `json:"source_request_id"`
	Topic           string    `json:"topic"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Suggestion is a draft answer derived from the knowledge base. It is never
// persisted. Confident is false when the best entry scored zero and was
// returned only as a fallback.
type Suggestion struct {
	Topic              string `json:"topic"`
	StoredAnswer       string `json:"stored_answer"`
	PersonalizedAnswer string `json:"personalized_answer"`
	Question           string `json:"question"`
	SourceRequestID    string `json:"source_request_id"`
	Score              int    `json:"score"`
	Confident          bool   `json:"confident"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneRequests deep-copies a slice of requests.
func CloneRequests(in []HelpRequest) []HelpRequest {
	if in == nil {
		return nil
	}
	out := make([]HelpRequest, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// CloneEntries copies a slice of knowledge entries.
func CloneEntries(in []KnowledgeEntry) []KnowledgeEntry {
	if in == nil {
		return nil
	}
	out := make([]KnowledgeEntry, len(in))
	copy(out, in)
	return out
}

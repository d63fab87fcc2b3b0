package state

import (
	"time"

	"github.com/kalambet/escalator/internal/model"
)

// MaxActivity bounds the activity log.
const MaxActivity = 50

type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneWarn    Tone = "warn"
	ToneError   Tone = "error"
)

type Activity struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Tone      Tone      `json:"tone"`
}

// Snapshot is the whole console state at one point in time.
type Snapshot struct {
	Requests  []model.HelpRequest    `json:"requests"`
	Knowledge []model.KnowledgeEntry `json:"knowledge_base"`

	SelectedRequestID   string `json:"selected_request_id"`
	ActiveChatRequestID string `json:"active_chat_request_id"`
	RequestFilter       string `json:"request_filter"`
	RequestSearch       string `json:"request_search"`
	KBViewMode          string `json:"kb_view_mode"`
	KBSearch            string `json:"kb_search"`

	Busy  bool `json:"busy"`
	Ready bool `json:"ready"`

	// Activity is newest first and never longer than MaxActivity.
	Activity []Activity `json:"activity_log"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Requests = model.CloneRequests(s.Requests)
	out.Knowledge = model.CloneEntries(s.Knowledge)
	if s.Activity != nil {
		out.Activity = make([]Activity, len(s.Activity))
		copy(out.Activity, s.Activity)
	}
	return out
}

// Patch lists the fields to overwrite in a Set call. Nil fields are left
// unchanged.
type Patch struct {
	Requests  *[]model.HelpRequest
	Knowledge *[]model.KnowledgeEntry

	SelectedRequestID   *string
	ActiveChatRequestID *string
	RequestFilter       *string
	RequestSearch       *string
	KBViewMode          *string
	KBSearch            *string

	Busy  *bool
	Ready *bool

	Activity *[]Activity
}

// Ref returns a pointer to v, for building a Patch.
func Ref[T any](v T) *T { return &v }

func (p Patch) applyTo(s *Snapshot) {
	if p.Requests != nil {
		s.Requests = model.CloneRequests(*p.Requests)
	}
	if p.Knowledge != nil {
		s.Knowledge = model.CloneEntries(*p.Knowledge)
	}
	if p.SelectedRequestID != nil {
		s.SelectedRequestID = *p.SelectedRequestID
	}
	if p.ActiveChatRequestID != nil {
		s.ActiveChatRequestID = *p.ActiveChatRequestID
	}
	if p.RequestFilter != nil {
		s.RequestFilter = *p.RequestFilter
	}
	if p.RequestSearch != nil {
		s.RequestSearch = *p.RequestSearch
	}
	if p.KBViewMode != nil {
		s.KBViewMode = *p.KBViewMode
	}
	if p.KBSearch != nil {
		s.KBSearch = *p.KBSearch
	}
	if p.Busy != nil {
		s.Busy = *p.Busy
	}
	if p.Ready != nil {
		s.Ready = *p.Ready
	}
	if p.Activity != nil {
		s.Activity = capActivity(*p.Activity)
	}
}

func capActivity(in []Activity) []Activity {
	if len(in) > MaxActivity {
		in = in[:MaxActivity]
	}
	out := make([]Activity, len(in))
	copy(out, in)
	return out
}

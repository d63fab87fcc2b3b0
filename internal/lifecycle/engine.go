// Package lifecycle implements the escalation state machine: a request is
// created pending, resolved or sent back for follow-up by a supervisor, and
// feeds the knowledge base when resolved.
package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/model"
)

const (
	DefaultTopic = "General"

	MsgEscalated       = "AI escalated to supervisor"
	MsgAcknowledgement = "Hi there! I've got your question and I'm looping in my supervisor so we can get you the right answer."
	MsgTimeout         = "timeout — awaiting follow-up"
	MsgReminderSent    = "Automated reminder sent: still working, will follow up shortly."
)

// Response is a supervisor's decision on a request.
type Response struct {
	Answer          string
	Topic           string
	Unresolved      bool
	Notes           string
	FollowUpMinutes *int
}

// NewRequest describes an escalation handed over by the agent.
type NewRequest struct {
	CustomerName    string
	CustomerContact string
	Channel         model.Channel
	Question        string
}

// Persister durably records a change before it becomes visible. entry is
// nil unless the change also produced a knowledge entry.
type Persister interface {
	Persist(ctx context.Context, req model.HelpRequest, entry *model.KnowledgeEntry) error
}

type Options struct {
	// DefaultTopic labels knowledge entries resolved without a topic.
	DefaultTopic string
	// Persister is optional; without it changes live in memory only.
	Persister Persister
	NewID     func() string
	Logger    *slog.Logger
}

// Engine owns the request table. Every operation either applies fully or
// leaves requests and knowledge base untouched.
type Engine struct {
	mu       sync.Mutex
	requests map[string]model.HelpRequest
	kb       *knowledge.Index

	defaultTopic string
	persist      Persister
	newID        func() string
	logger       *slog.Logger
}

// New creates an Engine that writes resolutions into kb.
func New(kb *knowledge.Index, opts Options) *Engine {
	e := &Engine{
		requests:     make(map[string]model.HelpRequest),
		kb:           kb,
		defaultTopic: opts.DefaultTopic,
		persist:      opts.Persister,
		newID:        opts.NewID,
		logger:       opts.Logger,
	}
	if e.defaultTopic == "" {
		e.defaultTopic = DefaultTopic
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Knowledge returns the index resolutions are written to.
func (e *Engine) Knowledge() *knowledge.Index { return e.kb }

// Load replaces the request table.
func (e *Engine) Load(reqs []model.HelpRequest) {
	m := make(map[string]model.HelpRequest, len(reqs))
	for _, r := range reqs {
		m[r.ID] = r.Clone()
	}
	e.mu.Lock()
	e.requests = m
	e.mu.Unlock()
}

// Get returns a copy of the request with the given id.
func (e *Engine) Get(id string) (model.HelpRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.requests[id]
	if !ok {
		return model.HelpRequest{}, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// List returns copies of the requests with the given status, newest first.
// An empty status returns every request.
func (e *Engine) List(status model.Status) []model.HelpRequest {
	e.mu.Lock()
	out := make([]model.HelpRequest, 0, len(e.requests))
	for _, r := range e.requests {
		if status == "" || r.Status == status {
			out = append(out, r.Clone())
		}
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b model.HelpRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Escalate records a new pending request.
func (e *Engine) Escalate(ctx context.Context, in NewRequest, now time.Time) (model.HelpRequest, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return model.HelpRequest{}, fmt.Errorf("question required: %w", model.ErrValidation)
	}
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		name = "Unknown Caller"
	}
	channel := in.Channel
	if channel == "" {
		channel = model.ChannelPhone
	}

	req := model.HelpRequest{
		ID:              e.newID(),
		CustomerName:    name,
		CustomerContact: strings.TrimSpace(in.CustomerContact),
		Channel:         channel,
		Question:        question,
		Status:          model.StatusPending,
		CreatedAt:       now,
		EscalatedAt:     now,
	}
	req.AddHistory(now, model.SenderAgent, MsgEscalated)
	req.AddHistory(now, model.SenderAgent, MsgAcknowledgement)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.commitLocked(ctx, req, nil); err != nil {
		return model.HelpRequest{}, err
	}
	e.logger.Info("request escalated", "request_id", req.ID, "channel", req.Channel)
	return req.Clone(), nil
}

// SubmitResponse applies a supervisor decision. A resolution needs a
// non-empty answer and upserts the request's knowledge entry; an unresolved
// response schedules a follow-up when minutes are given. Each call adds one
// history entry.
func (e *Engine) SubmitResponse(ctx context.Context, id string, resp Response, now time.Time) (model.HelpRequest, *model.KnowledgeEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.requests[id]
	if !ok {
		return model.HelpRequest{}, nil, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}

	answer := strings.TrimSpace(resp.Answer)
	notes := strings.TrimSpace(resp.Notes)
	next := cur.Clone()

	if resp.Unresolved {
		next.Status = model.StatusUnresolved
		next.ResolvedAt = nil
		next.Answer = answer
		if next.Answer == "" {
			next.Answer = notes
		}
		next.Notes = notes

		msg := "Supervisor marked unresolved; follow-up requested."
		if m := resp.FollowUpMinutes; m != nil && *m > 0 {
			at := now.Add(time.Duration(*m) * time.Minute)
			next.FollowUpAt = &at
			next.FollowUpReminderSent = false
			msg = fmt.Sprintf("Supervisor marked unresolved; follow-up requested within %d minutes.", *m)
		}
		next.AddHistory(now, model.SenderSupervisor, msg)

		if err := e.commitLocked(ctx, next, nil); err != nil {
			return model.HelpRequest{}, nil, err
		}
		e.logger.Info("request left unresolved", "request_id", id)
		return next.Clone(), nil, nil
	}

	if answer == "" {
		return model.HelpRequest{}, nil, fmt.Errorf("answer or unresolved required: %w", model.ErrValidation)
	}

	resolvedAt := now
	next.Status = model.StatusResolved
	next.ResolvedAt = &resolvedAt
	next.Answer = answer
	next.Notes = notes
	next.FollowUpAt = nil
	next.FollowUpReminderSent = false
	next.AddHistory(now, model.SenderSupervisor, fmt.Sprintf("Supervisor responded: %q", answer))

	topic := strings.TrimSpace(resp.Topic)
	if topic == "" {
		topic = e.defaultTopic
	}
	entry := e.kb.Plan(id, topic, next.Question, answer, now)

	if err := e.commitLocked(ctx, next, &entry); err != nil {
		return model.HelpRequest{}, nil, err
	}
	e.logger.Info("request resolved", "request_id", id, "knowledge_id", entry.ID, "topic", topic)
	return next.Clone(), &entry, nil
}

// MarkTimeout moves a request to unresolved after the agent gave up
// waiting. The follow-up schedule is left as is.
func (e *Engine) MarkTimeout(ctx context.Context, id string, now time.Time) (model.HelpRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.requests[id]
	if !ok {
		return model.HelpRequest{}, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}

	next := cur.Clone()
	next.Status = model.StatusUnresolved
	next.ResolvedAt = nil
	next.AddHistory(now, model.SenderSystem, MsgTimeout)

	if err := e.commitLocked(ctx, next, nil); err != nil {
		return model.HelpRequest{}, err
	}
	e.logger.Info("request timed out", "request_id", id)
	return next.Clone(), nil
}

// ScheduleFollowUp sets the request's follow-up to minutes after now and
// re-arms its reminder. Resolved requests cannot be scheduled.
func (e *Engine) ScheduleFollowUp(ctx context.Context, id string, minutes int, now time.Time) (model.HelpRequest, error) {
	if minutes <= 0 {
		return model.HelpRequest{}, fmt.Errorf("follow-up minutes must be positive, got %d: %w", minutes, model.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.requests[id]
	if !ok {
		return model.HelpRequest{}, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}
	if cur.Status == model.StatusResolved {
		return model.HelpRequest{}, fmt.Errorf("request %s is resolved: %w", id, model.ErrValidation)
	}

	next := cur.Clone()
	at := now.Add(time.Duration(minutes) * time.Minute)
	next.FollowUpAt = &at
	next.FollowUpReminderSent = false

	if err := e.commitLocked(ctx, next, nil); err != nil {
		return model.HelpRequest{}, err
	}
	e.logger.Debug("follow-up scheduled", "request_id", id, "follow_up_at", at)
	return next.Clone(), nil
}

// DueFollowUps returns unresolved requests whose follow-up is due and whose
// reminder has not been sent, earliest first.
func (e *Engine) DueFollowUps(now time.Time) []model.HelpRequest {
	e.mu.Lock()
	var out []model.HelpRequest
	for _, r := range e.requests {
		if r.Status != model.StatusUnresolved || r.FollowUpAt == nil || r.FollowUpReminderSent {
			continue
		}
		if !r.FollowUpAt.After(now) {
			out = append(out, r.Clone())
		}
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b model.HelpRequest) int {
		if c := a.FollowUpAt.Compare(*b.FollowUpAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// MarkReminderSent records that the follow-up reminder went out.
func (e *Engine) MarkReminderSent(ctx context.Context, id string, now time.Time) (model.HelpRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.requests[id]
	if !ok {
		return model.HelpRequest{}, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}

	next := cur.Clone()
	next.FollowUpReminderSent = true
	next.AddHistory(now, model.SenderSystem, MsgReminderSent)

	if err := e.commitLocked(ctx, next, nil); err != nil {
		return model.HelpRequest{}, err
	}
	return next.Clone(), nil
}

// commitLocked persists then publishes req and entry. Nothing changes in
// memory if persistence fails.
func (e *Engine) commitLocked(ctx context.Context, req model.HelpRequest, entry *model.KnowledgeEntry) error {
	if e.persist != nil {
		if err := e.persist.Persist(ctx, req, entry); err != nil {
			return model.Collaborator("persisting request "+req.ID, err)
		}
	}
	e.requests[req.ID] = req
	if entry != nil {
		e.kb.Put(*entry)
	}
	return nil
}

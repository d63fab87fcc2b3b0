// Package desk is the supervisor help desk: the lifecycle engine plus
// persistence loading, customer notifications and follow-up reminders.
package desk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/notify"
	"github.com/kalambet/escalator/internal/suggest"
)

const DefaultFollowUpMinutes = 30

const (
	msgStillGathering = "Thanks for staying with me while I gather more info."
	msgReminder       = "Thanks for your patience, I'm still working on this and will update you as soon as I have news."
)

// Notifier queues outbound messages.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

// Source provides the persisted state the desk starts from.
type Source interface {
	ListRequests(ctx context.Context, status model.Status) ([]model.HelpRequest, error)
	ListKnowledge(ctx context.Context) ([]model.KnowledgeEntry, error)
}

type Options struct {
	// FollowUpMinutes is used when a supervisor leaves a request unresolved
	// without naming a follow-up window.
	FollowUpMinutes int
	Suggester       *suggest.Suggester
	Now             func() time.Time
	Logger          *slog.Logger
}

// AskResult is the outcome of an agent question: either a stored answer or
// a new escalation.
type AskResult struct {
	Answered bool                  `json:"answered"`
	Answer   string                `json:"answer,omitempty"`
	Request  *model.HelpRequest    `json:"request,omitempty"`
	Source   *model.KnowledgeEntry `json:"source,omitempty"`
}

type Service struct {
	engine          *lifecycle.Engine
	notifier        Notifier
	suggester       *suggest.Suggester
	followUpMinutes int
	now             func() time.Time
	logger          *slog.Logger
}

// New wraps engine. notifier may be nil, in which case no messages are sent.
func New(engine *lifecycle.Engine, notifier Notifier, opts Options) *Service {
	s := &Service{
		engine:          engine,
		notifier:        notifier,
		suggester:       opts.Suggester,
		followUpMinutes: opts.FollowUpMinutes,
		now:             opts.Now,
		logger:          opts.Logger,
	}
	if s.followUpMinutes <= 0 {
		s.followUpMinutes = DefaultFollowUpMinutes
	}
	if s.suggester == nil {
		s.suggester = suggest.NewSuggester(nil)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Load seeds the engine and knowledge base from src.
func (s *Service) Load(ctx context.Context, src Source) error {
	reqs, err := src.ListRequests(ctx, "")
	if err != nil {
		return model.Collaborator("loading requests", err)
	}
	entries, err := src.ListKnowledge(ctx)
	if err != nil {
		return model.Collaborator("loading knowledge base", err)
	}
	s.engine.Load(reqs)
	s.engine.Knowledge().Load(entries)
	s.logger.Info("desk loaded", "requests", len(reqs), "knowledge_entries", len(entries))
	return nil
}

func (s *Service) List(_ context.Context, status model.Status) ([]model.HelpRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, model.ErrValidation)
	}
	return s.engine.List(status), nil
}

func (s *Service) Get(_ context.Context, id string) (model.HelpRequest, error) {
	return s.engine.Get(id)
}

func (s *Service) ListKnowledgeBase(_ context.Context) ([]model.KnowledgeEntry, error) {
	return s.engine.Knowledge().List(), nil
}

// SearchKnowledge filters the knowledge base by a free-text query.
func (s *Service) SearchKnowledge(_ context.Context, query string) ([]model.KnowledgeEntry, error) {
	return s.engine.Knowledge().Search(query), nil
}

// Escalate opens a pending request, acknowledges the customer and alerts
// the supervisor.
func (s *Service) Escalate(ctx context.Context, in lifecycle.NewRequest) (model.HelpRequest, error) {
	req, err := s.engine.Escalate(ctx, in, s.now())
	if err != nil {
		return model.HelpRequest{}, err
	}
	s.notifyCustomer(ctx, req, lifecycle.MsgAcknowledgement)
	s.send(ctx, notify.Notification{
		Audience:  notify.AudienceSupervisor,
		RequestID: req.ID,
		Recipient: notify.SupervisorRecipient,
		Channel:   notify.SupervisorChannel,
		Message:   fmt.Sprintf("Hey, I need help answering '%s'.", req.Question),
	})
	return req, nil
}

// SubmitResponse applies a supervisor decision and tells the customer.
// Unresolved responses without a follow-up window get the configured one.
func (s *Service) SubmitResponse(ctx context.Context, id string, resp lifecycle.Response) (model.HelpRequest, error) {
	var minutes int
	if resp.Unresolved {
		minutes = s.followUpMinutes
		if resp.FollowUpMinutes != nil && *resp.FollowUpMinutes > 0 {
			minutes = *resp.FollowUpMinutes
		}
		resp.FollowUpMinutes = &minutes
	}

	req, entry, err := s.engine.SubmitResponse(ctx, id, resp, s.now())
	if err != nil {
		return model.HelpRequest{}, err
	}

	if resp.Unresolved {
		base := strings.TrimSpace(resp.Answer)
		if base == "" {
			base = msgStillGathering
		}
		s.notifyCustomer(ctx, req, fmt.Sprintf(
			"%s I'll check back in about %d minutes. Please feel free to reply with any updates in the meantime.",
			base, minutes))
		return req, nil
	}

	s.logger.Debug("knowledge base updated", "request_id", id, "knowledge_id", entry.ID)
	s.notifyCustomer(ctx, req, req.Answer)
	return req, nil
}

// MarkTimeout records that the agent stopped waiting, schedules a follow-up
// in the configured window and reassures the customer.
func (s *Service) MarkTimeout(ctx context.Context, id string) (model.HelpRequest, error) {
	now := s.now()
	if _, err := s.engine.MarkTimeout(ctx, id, now); err != nil {
		return model.HelpRequest{}, err
	}
	req, err := s.engine.ScheduleFollowUp(ctx, id, s.followUpMinutes, now)
	if err != nil {
		return model.HelpRequest{}, err
	}
	s.notifyCustomer(ctx, req, fmt.Sprintf(
		"Thanks for your patience. I'm still coordinating with my supervisor and will follow up in about %d minutes.",
		s.followUpMinutes))
	return req, nil
}

// DispatchFollowUps sends one reminder per due unresolved request and
// returns how many went out.
func (s *Service) DispatchFollowUps(ctx context.Context) (int, error) {
	now := s.now()
	sent := 0
	for _, req := range s.engine.DueFollowUps(now) {
		if err := s.enqueue(ctx, customerNotification(req, msgReminder)); err != nil {
			return sent, model.Collaborator("queueing reminder for "+req.ID, err)
		}
		if _, err := s.engine.MarkReminderSent(ctx, req.ID, now); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info("follow-up reminders sent", "count", sent)
	}
	return sent, nil
}

// Suggest drafts an answer for the request from the knowledge base. ok is
// false when the knowledge base is empty.
func (s *Service) Suggest(_ context.Context, id string) (model.Suggestion, bool, error) {
	req, err := s.engine.Get(id)
	if err != nil {
		return model.Suggestion{}, false, err
	}
	sug, ok := s.suggester.BestMatch(req, s.engine.Knowledge().List())
	return sug, ok, nil
}

// Ask answers a customer question from the knowledge base when a stored
// question matches, and escalates otherwise.
func (s *Service) Ask(ctx context.Context, in lifecycle.NewRequest) (AskResult, error) {
	if entry, ok := suggest.AutoAnswer(in.Question, s.engine.Knowledge().List()); ok {
		s.logger.Info("answered from knowledge base", "knowledge_id", entry.ID)
		return AskResult{Answered: true, Answer: entry.Answer, Source: &entry}, nil
	}
	req, err := s.Escalate(ctx, in)
	if err != nil {
		return AskResult{}, err
	}
	return AskResult{Request: &req}, nil
}

// Knowledge exposes the underlying index for read-only views.
func (s *Service) Knowledge() *knowledge.Index {
	return s.engine.Knowledge()
}

func customerNotification(req model.HelpRequest, msg string) notify.Notification {
	return notify.Notification{
		Audience:  notify.AudienceCustomer,
		RequestID: req.ID,
		Recipient: req.CustomerName,
		Channel:   string(req.Channel),
		Message:   msg,
	}
}

func (s *Service) notifyCustomer(ctx context.Context, req model.HelpRequest, msg string) {
	s.send(ctx, customerNotification(req, msg))
}

// send queues n. The request change it reports is already committed, so a
// failure is logged rather than returned.
func (s *Service) send(ctx context.Context, n notify.Notification) {
	if err := s.enqueue(ctx, n); err != nil {
		s.logger.Warn("queueing notification failed", "request_id", n.RequestID, "audience", n.Audience, "error", err)
	}
}

func (s *Service) enqueue(ctx context.Context, n notify.Notification) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Enqueue(ctx, n)
}

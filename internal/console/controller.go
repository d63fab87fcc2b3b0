// Package console drives the supervisor console: it loads requests and the
// knowledge base from a Backend into a state.Store, records an activity log
// for supervisor actions and derives the filtered views the UI renders.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/state"
	"github.com/kalambet/escalator/internal/suggest"
)

// Request filters.
const (
	FilterAll        = "all"
	FilterPending    = string(model.StatusPending)
	FilterUnresolved = string(model.StatusUnresolved)
	FilterResolved   = string(model.StatusResolved)
)

// Knowledge base view modes.
const (
	KBViewSelection = "selection"
	KBViewAll       = "all"
)

var statusOrder = map[model.Status]int{
	model.StatusPending:    0,
	model.StatusUnresolved: 1,
	model.StatusResolved:   2,
}

// Backend is the request service the console talks to. Both the in-process
// desk.Service and the HTTP client.Client satisfy it.
type Backend interface {
	List(ctx context.Context, status model.Status) ([]model.HelpRequest, error)
	ListKnowledgeBase(ctx context.Context) ([]model.KnowledgeEntry, error)
	SubmitResponse(ctx context.Context, id string, resp lifecycle.Response) (model.HelpRequest, error)
	MarkTimeout(ctx context.Context, id string) (model.HelpRequest, error)
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Suggester *suggest.Suggester
	Now       func() time.Time
	Logger    *slog.Logger
}

// Controller mutates the console state in response to supervisor actions.
type Controller struct {
	backend   Backend
	store     *state.Store
	suggester *suggest.Suggester
	now       func() time.Time
	logger    *slog.Logger
}

// NewInitialState returns the state a console starts from.
func NewInitialState() state.Snapshot {
	return state.Snapshot{
		RequestFilter: FilterAll,
		KBViewMode:    KBViewSelection,
	}
}

func New(backend Backend, store *state.Store, opts Options) *Controller {
	c := &Controller{
		backend:   backend,
		store:     store,
		suggester: opts.Suggester,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if c.suggester == nil {
		c.suggester = suggest.NewSuggester(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Store returns the state store the controller writes to.
func (c *Controller) Store() *state.Store { return c.store }

// Bootstrap loads the first view: every request, the knowledge base, an
// activity log seeded from the escalations, and the newest request selected.
func (c *Controller) Bootstrap(ctx context.Context) error {
	reqs, entries, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("console bootstrap failed", "error", err)
		return err
	}

	cur := c.store.Get()
	selected := ""
	if len(reqs) > 0 {
		selected = reqs[0].ID
	}
	filter := cur.RequestFilter
	if filter == "" {
		filter = FilterAll
	}
	activity := seedActivity(reqs)

	c.store.Set(state.Patch{
		Requests:          &reqs,
		Knowledge:         &entries,
		SelectedRequestID: &selected,
		Activity:          &activity,
		Ready:             state.Ref(true),
		RequestFilter:     &filter,
		RequestSearch:     state.Ref(cur.RequestSearch),
	})
	return nil
}

// Refresh re-reads requests and the knowledge base, keeping the current
// selection. It does nothing while another operation is in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	cur := c.store.Get()
	if cur.Busy {
		return nil
	}
	c.store.Set(state.Patch{Busy: state.Ref(true)})

	if err := c.reload(ctx, cur.SelectedRequestID); err != nil {
		c.logger.Error("console refresh failed", "error", err)
		c.store.PushActivity(fmt.Sprintf("Sync failed: %v", err), state.ToneError, c.now())
		c.store.Set(state.Patch{Busy: state.Ref(false)})
		return err
	}
	c.store.PushActivity("Timeline synced with backend.", state.ToneInfo, c.now())
	return nil
}

// Respond submits the supervisor's reply for the selected request.
func (c *Controller) Respond(ctx context.Context, resp lifecycle.Response) error {
	id := c.store.Get().SelectedRequestID
	if id == "" {
		return nil
	}
	if !resp.Unresolved {
		resp.FollowUpMinutes = nil
	}
	c.store.Set(state.Patch{Busy: state.Ref(true)})

	updated, err := c.backend.SubmitResponse(ctx, id, resp)
	if err != nil {
		c.logger.Error("submitting response failed", "request_id", id, "error", err)
		c.fail(fmt.Sprintf("Failed to submit response: %v", err))
		return err
	}
	if err := c.reload(ctx, updated.ID); err != nil {
		c.logger.Error("sync after response failed", "request_id", id, "error", err)
		c.fail(fmt.Sprintf("Response saved; sync failed: %v", err))
		return err
	}

	if resp.Unresolved {
		c.store.PushActivity(fmt.Sprintf("Requested follow-up from %s (%s) within %s.",
			updated.CustomerName, updated.ID, followUpSummary(resp.FollowUpMinutes)), state.ToneWarn, c.now())
	} else {
		c.store.PushActivity(fmt.Sprintf("Supervisor responded to %s (%s).",
			updated.CustomerName, updated.ID), state.ToneSuccess, c.now())
	}
	c.logger.Info("supervisor answer sent", "request_id", updated.ID, "customer", updated.CustomerName)
	return nil
}

// Timeout marks the selected request unresolved.
func (c *Controller) Timeout(ctx context.Context) error {
	id := c.store.Get().SelectedRequestID
	if id == "" {
		return nil
	}
	c.store.Set(state.Patch{Busy: state.Ref(true)})

	updated, err := c.backend.MarkTimeout(ctx, id)
	if err != nil {
		c.logger.Error("marking timeout failed", "request_id", id, "error", err)
		c.fail(fmt.Sprintf("Failed to mark timeout: %v", err))
		return err
	}
	if err := c.reload(ctx, updated.ID); err != nil {
		c.logger.Error("sync after timeout failed", "request_id", id, "error", err)
		c.fail(fmt.Sprintf("Timeout recorded; sync failed: %v", err))
		return err
	}
	c.store.PushActivity(fmt.Sprintf("Marked %s as unresolved after timeout.", updated.ID), state.ToneWarn, c.now())
	return nil
}

// fail logs message as an error activity and releases Busy.
func (c *Controller) fail(message string) {
	c.store.PushActivity(message, state.ToneError, c.now())
	c.store.Set(state.Patch{Busy: state.Ref(false)})
}

// Select focuses a request and closes any open chat.
func (c *Controller) Select(id string) {
	c.store.Set(state.Patch{
		SelectedRequestID:   &id,
		ActiveChatRequestID: state.Ref(""),
	})
}

// OpenChat marks the selected request's conversation as open.
func (c *Controller) OpenChat() {
	id := c.store.Get().SelectedRequestID
	c.store.Set(state.Patch{ActiveChatRequestID: &id})
}

// SetFilter changes the request filter. Unknown filters are rejected.
func (c *Controller) SetFilter(filter string) error {
	if !validFilter(filter) {
		return fmt.Errorf("%w: unknown filter %q", model.ErrValidation, filter)
	}
	c.store.Set(state.Patch{RequestFilter: &filter})
	return nil
}

// FocusMetric applies filter and clears the search, like clicking a
// status counter.
func (c *Controller) FocusMetric(filter string) error {
	if !validFilter(filter) {
		return fmt.Errorf("%w: unknown filter %q", model.ErrValidation, filter)
	}
	c.store.Set(state.Patch{RequestFilter: &filter, RequestSearch: state.Ref("")})
	return nil
}

func (c *Controller) SetSearch(query string) {
	c.store.Set(state.Patch{RequestSearch: &query})
}

// SetKBView switches the knowledge base between the selected request's
// answers and all answers.
func (c *Controller) SetKBView(mode string) error {
	if mode != KBViewSelection && mode != KBViewAll {
		return fmt.Errorf("%w: unknown knowledge view %q", model.ErrValidation, mode)
	}
	c.store.Set(state.Patch{KBViewMode: &mode})
	return nil
}

func (c *Controller) SetKBSearch(query string) {
	c.store.Set(state.Patch{KBSearch: &query})
}

// Suggestion drafts a reply for the selected request from the loaded
// knowledge base.
func (c *Controller) Suggestion() (model.Suggestion, bool) {
	snap := c.store.Get()
	req, ok := SelectedRequest(snap)
	if !ok {
		return model.Suggestion{}, false
	}
	return c.suggester.BestMatch(req, snap.Knowledge)
}

func (c *Controller) fetch(ctx context.Context) ([]model.HelpRequest, []model.KnowledgeEntry, error) {
	var (
		reqs    []model.HelpRequest
		entries []model.KnowledgeEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reqs, err = c.backend.List(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = c.backend.ListKnowledgeBase(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return reqs, entries, nil
}

func (c *Controller) reload(ctx context.Context, selected string) error {
	reqs, entries, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.store.Set(state.Patch{
		Requests:          &reqs,
		Knowledge:         &entries,
		SelectedRequestID: &selected,
		Busy:              state.Ref(false),
	})
	return nil
}

func seedActivity(reqs []model.HelpRequest) []state.Activity {
	out := make([]state.Activity, 0, len(reqs))
	for _, r := range reqs {
		ts := r.EscalatedAt
		if ts.IsZero() {
			ts = r.CreatedAt
		}
		out = append(out, state.Activity{
			ID:        "seed-" + r.ID,
			Message:   fmt.Sprintf("%s escalated a %s question (%s).", r.CustomerName, r.Channel, r.ID),
			Timestamp: ts,
			Tone:      state.ToneInfo,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func followUpSummary(minutes *int) string {
	if minutes == nil || *minutes == 0 {
		return "a little while"
	}
	if *minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", *minutes)
}

func validFilter(f string) bool {
	switch f {
	case FilterAll, FilterPending, FilterUnresolved, FilterResolved:
		return true
	}
	return false
}

// SelectedRequest returns the request the snapshot has selected.
func SelectedRequest(snap state.Snapshot) (model.HelpRequest, bool) {
	if snap.SelectedRequestID == "" {
		return model.HelpRequest{}, false
	}
	for _, r := range snap.Requests {
		if r.ID == snap.SelectedRequestID {
			return r, true
		}
	}
	return model.HelpRequest{}, false
}

// VisibleRequests applies the snapshot's filter and search, then orders
// pending before unresolved before resolved, newest first within a status.
func VisibleRequests(snap state.Snapshot) []model.HelpRequest {
	filter := snap.RequestFilter
	if filter == "" {
		filter = FilterAll
	}
	query := strings.ToLower(snap.RequestSearch)

	var out []model.HelpRequest
	for _, r := range snap.Requests {
		if filter != FilterAll && string(r.Status) != filter {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(r.CustomerName), query) &&
			!strings.Contains(strings.ToLower(r.Question), query) &&
			!strings.Contains(strings.ToLower(r.ID), query) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := statusOrder[out[i].Status], statusOrder[out[j].Status]
		if oi != oj {
			return oi < oj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// VisibleKnowledge returns the entries the knowledge panel shows. In
// selection mode only the answer learned from the selected request is
// listed; with nothing selected every entry is.
func VisibleKnowledge(snap state.Snapshot) []model.KnowledgeEntry {
	entries := snap.Knowledge
	mode := snap.KBViewMode
	if mode == "" {
		mode = KBViewSelection
	}
	if mode == KBViewSelection && snap.SelectedRequestID != "" {
		entries = knowledge.ForRequest(entries, snap.SelectedRequestID)
	}
	return knowledge.Filter(entries, snap.KBSearch)
}

// Counts holds the number of requests per status.
type Counts struct {
	Pending    int `json:"pending"`
	Unresolved int `json:"unresolved"`
	Resolved   int `json:"resolved"`
	Total      int `json:"total"`
}

func CountRequests(reqs []model.HelpRequest) Counts {
	var c Counts
	for _, r := range reqs {
		switch r.Status {
		case model.StatusPending:
			c.Pending++
		case model.StatusUnresolved:
			c.Unresolved++
		case model.StatusResolved:
			c.Resolved++
		}
	}
	c.Total = len(reqs)
	return c
}

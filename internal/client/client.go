// Package client talks to a running escalator server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kalambet/escalator/internal/desk"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/wire"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// New returns a Client for the server at baseURL. A nil httpClient uses a
// client with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type responseBody struct {
	Answer          string `json:"answer"`
	Topic           string `json:"topic,omitempty"`
	Unresolved      bool   `json:"unresolved"`
	Notes           string `json:"notes,omitempty"`
	FollowUpMinutes *int   `json:"follow_up_minutes,omitempty"`
}

type escalateBody struct {
	CustomerName    string `json:"customer_name,omitempty"`
	CustomerContact string `json:"customer_contact,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Question        string `json:"question"`
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) List(ctx context.Context, status model.Status) ([]model.HelpRequest, error) {
	path := "/api/help-requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	data, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return wrapDecode(wire.DecodeRequests(data, c.now()))
}

func (c *Client) Get(ctx context.Context, id string) (model.HelpRequest, error) {
	return c.requestCall(ctx, http.MethodGet, "/api/help-requests/"+url.PathEscape(id), nil)
}

func (c *Client) ListKnowledgeBase(ctx context.Context) ([]model.KnowledgeEntry, error) {
	return c.SearchKnowledge(ctx, "")
}

func (c *Client) SearchKnowledge(ctx context.Context, query string) ([]model.KnowledgeEntry, error) {
	path := "/api/knowledge-base"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	data, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return wrapDecode(wire.DecodeKnowledge(data, c.now()))
}

func (c *Client) SubmitResponse(ctx context.Context, id string, resp lifecycle.Response) (model.HelpRequest, error) {
	body := responseBody{
		Answer:          resp.Answer,
		Topic:           resp.Topic,
		Unresolved:      resp.Unresolved,
		Notes:           resp.Notes,
		FollowUpMinutes: resp.FollowUpMinutes,
	}
	return c.requestCall(ctx, http.MethodPost, "/api/help-requests/"+url.PathEscape(id)+"/response", body)
}

func (c *Client) MarkTimeout(ctx context.Context, id string) (model.HelpRequest, error) {
	return c.requestCall(ctx, http.MethodPost, "/api/help-requests/"+url.PathEscape(id)+"/timeout", nil)
}

func (c *Client) Escalate(ctx context.Context, in lifecycle.NewRequest) (model.HelpRequest, error) {
	return c.requestCall(ctx, http.MethodPost, "/api/help-requests", newEscalateBody(in))
}

func (c *Client) Ask(ctx context.Context, in lifecycle.NewRequest) (desk.AskResult, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/agent/ask", newEscalateBody(in))
	if err != nil {
		return desk.AskResult{}, err
	}
	res := gjson.ParseBytes(data)
	out := desk.AskResult{
		Answered: res.Get("answered").Bool(),
		Answer:   res.Get("answer").String(),
	}
	if r := res.Get("request"); r.IsObject() {
		req := wire.HelpRequest(r, c.now())
		out.Request = &req
	}
	if s := res.Get("source"); s.IsObject() {
		e := wire.KnowledgeEntry(s, c.now())
		out.Source = &e
	}
	return out, nil
}

// Suggest returns the server's draft answer for a request. ok is false when
// the knowledge base is empty.
func (c *Client) Suggest(ctx context.Context, id string) (model.Suggestion, bool, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/help-requests/"+url.PathEscape(id)+"/suggestion", nil)
	if err != nil {
		return model.Suggestion{}, false, err
	}
	var body struct {
		Found      bool              `json:"found"`
		Suggestion *model.Suggestion `json:"suggestion"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return model.Suggestion{}, false, model.Collaborator("decoding suggestion", err)
	}
	if !body.Found || body.Suggestion == nil {
		return model.Suggestion{}, false, nil
	}
	return *body.Suggestion, true, nil
}

func (c *Client) DispatchFollowUps(ctx context.Context) (int, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/help-requests/follow-ups/dispatch", nil)
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(data, "sent").Int()), nil
}

func newEscalateBody(in lifecycle.NewRequest) escalateBody {
	return escalateBody{
		CustomerName:    in.CustomerName,
		CustomerContact: in.CustomerContact,
		Channel:         string(in.Channel),
		Question:        in.Question,
	}
}

func (c *Client) requestCall(ctx context.Context, method, path string, body any) (model.HelpRequest, error) {
	data, err := c.call(ctx, method, path, body)
	if err != nil {
		return model.HelpRequest{}, err
	}
	req, err := wire.DecodeRequest(data, c.now())
	if err != nil {
		return model.HelpRequest{}, model.Collaborator("decoding request", err)
	}
	return req, nil
}

// call performs one round trip and returns the response body. Server
// errors come back as model errors; transport failures as collaborator
// errors.
func (c *Client) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.Collaborator(method+" "+path, fmt.Errorf("server not reachable, is escalator running? (%w)", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Collaborator(method+" "+path, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(method+" "+path, resp.StatusCode, data)
	}
	return data, nil
}

func statusError(op string, code int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = string(body)
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, model.ErrValidation)
	}
	return model.Collaborator(op, fmt.Errorf("server returned %d: %s", code, msg))
}

func wrapDecode[T any](v T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, model.Collaborator("decoding response", err)
	}
	return v, nil
}

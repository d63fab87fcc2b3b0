package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/escalator/internal/desk"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
)

// EscalateRequest is the body of POST /api/help-requests and
// POST /api/agent/ask.
type EscalateRequest struct {
	CustomerName    string `json:"customer_name" validate:"max=120"`
	CustomerContact string `json:"customer_contact" validate:"max=120"`
	Channel         string `json:"channel" validate:"omitempty,max=32"`
	Question        string `json:"question" validate:"required,max=2000"`
}

// ResponseRequest is a supervisor decision.
type ResponseRequest struct {
	Answer          string `json:"answer" validate:"max=4000"`
	Topic           string `json:"topic" validate:"max=80"`
	Unresolved      bool   `json:"unresolved"`
	Notes           string `json:"notes" validate:"max=4000"`
	FollowUpMinutes *int   `json:"follow_up_minutes" validate:"omitempty,min=0,max=10080"`
}

// SuggestionResponse wraps a suggestion. Found is false for an empty
// knowledge base.
type SuggestionResponse struct {
	Found      bool              `json:"found"`
	Suggestion *model.Suggestion `json:"suggestion,omitempty"`
}

type AppDeps struct {
	Desk *desk.Service
}

func NewAppHandler(deps AppDeps) http.Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/help-requests", handleListRequests(deps, v))
		r.Post("/help-requests", handleEscalate(deps, v))
		r.Post("/help-requests/follow-ups/dispatch", handleDispatchFollowUps(deps))
		r.Get("/help-requests/{id}", handleGetRequest(deps))
		r.Post("/help-requests/{id}/response", handleSubmitResponse(deps, v))
		r.Post("/help-requests/{id}/timeout", handleTimeout(deps))
		r.Get("/help-requests/{id}/suggestion", handleSuggestion(deps))
		r.Get("/knowledge-base", handleListKnowledge(deps))
		r.Post("/agent/ask", handleAsk(deps, v))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","app":"escalator"}`))
}

func handleListRequests(deps AppDeps, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if err := v.Var(status, "omitempty,oneof=pending resolved unresolved"); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}

		reqs, err := deps.Desk.List(r.Context(), model.Status(status))
		if err != nil {
			deskError(w, err, "list requests")
			return
		}
		if reqs == nil {
			reqs = []model.HelpRequest{}
		}
		writeJSON(w, http.StatusOK, reqs)
	}
}

func handleGetRequest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := deps.Desk.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deskError(w, err, "get request")
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleEscalate(deps AppDeps, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body EscalateRequest
		if !decodeBody(w, r, v, &body) {
			return
		}

		req, err := deps.Desk.Escalate(r.Context(), body.newRequest())
		if err != nil {
			deskError(w, err, "escalate request")
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

func handleSubmitResponse(deps AppDeps, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ResponseRequest
		if !decodeBody(w, r, v, &body) {
			return
		}

		req, err := deps.Desk.SubmitResponse(r.Context(), chi.URLParam(r, "id"), lifecycle.Response{
			Answer:          body.Answer,
			Topic:           body.Topic,
			Unresolved:      body.Unresolved,
			Notes:           body.Notes,
			FollowUpMinutes: body.FollowUpMinutes,
		})
		if err != nil {
			deskError(w, err, "submit response")
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleTimeout(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := deps.Desk.MarkTimeout(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deskError(w, err, "mark timeout")
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleSuggestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sug, ok, err := deps.Desk.Suggest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deskError(w, err, "suggest answer")
			return
		}
		resp := SuggestionResponse{Found: ok}
		if ok {
			resp.Suggestion = &sug
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Desk.SearchKnowledge(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			deskError(w, err, "list knowledge base")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleDispatchFollowUps(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sent, err := deps.Desk.DispatchFollowUps(r.Context())
		if err != nil {
			deskError(w, err, "dispatch follow-ups")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
	}
}

func handleAsk(deps AppDeps, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body EscalateRequest
		if !decodeBody(w, r, v, &body) {
			return
		}

		res, err := deps.Desk.Ask(r.Context(), body.newRequest())
		if err != nil {
			deskError(w, err, "answer question")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (b EscalateRequest) newRequest() lifecycle.NewRequest {
	in := lifecycle.NewRequest{
		CustomerName:    b.CustomerName,
		CustomerContact: b.CustomerContact,
		Question:        b.Question,
	}
	if strings.TrimSpace(b.Channel) != "" {
		in.Channel = model.ParseChannel(b.Channel)
	}
	return in
}

// decodeBody reads and validates a JSON body into dst, writing a 400 and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			httpError(w, http.StatusBadRequest, "invalid_request_error", "field %s failed %s validation", fe.Field(), fe.Tag())
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
		return false
	}
	return true
}

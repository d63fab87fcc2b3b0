package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/escalator/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

const requestColumns = `id, customer_name, customer_contact, channel, question, status, answer, notes,
	created_at, escalated_at, resolved_at, history, follow_up_at, follow_up_reminder_sent`

// --- Help requests ---

// SaveRequest inserts r or overwrites the stored row with the same ID.
func (s *Store) SaveRequest(ctx context.Context, r model.HelpRequest) error {
	return saveRequest(ctx, s.db, r)
}

func saveRequest(ctx context.Context, db execer, r model.HelpRequest) error {
	history := r.History
	if history == nil {
		history = []model.HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshalling history: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO help_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name = excluded.customer_name,
			customer_contact = excluded.customer_contact,
			channel = excluded.channel,
			question = excluded.question,
			status = excluded.status,
			answer = excluded.answer,
			notes = excluded.notes,
			escalated_at = excluded.escalated_at,
			resolved_at = excluded.resolved_at,
			history = excluded.history,
			follow_up_at = excluded.follow_up_at,
			follow_up_reminder_sent = excluded.follow_up_reminder_sent`,
		r.ID, r.CustomerName, r.CustomerContact, string(r.Channel), r.Question, string(r.Status),
		r.Answer, r.Notes, formatTime(r.CreatedAt), formatTime(r.EscalatedAt),
		formatNullTime(r.ResolvedAt), string(historyJSON), formatNullTime(r.FollowUpAt),
		r.FollowUpReminderSent,
	)
	if err != nil {
		return fmt.Errorf("saving request %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.HelpRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM help_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HelpRequest{}, ErrNotFound
	}
	return r, err
}

// ListRequests returns requests newest first. An empty status returns all.
func (s *Store) ListRequests(ctx context.Context, status model.Status) ([]model.HelpRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM help_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var results []model.HelpRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanRequest(row scanner) (model.HelpRequest, error) {
	var (
		r                      model.HelpRequest
		channel, status        string
		createdAt, escalatedAt string
		resolvedAt, followUpAt sql.NullString
		historyJSON            string
	)
	err := row.Scan(&r.ID, &r.CustomerName, &r.CustomerContact, &channel, &r.Question, &status,
		&r.Answer, &r.Notes, &createdAt, &escalatedAt, &resolvedAt, &historyJSON, &followUpAt,
		&r.FollowUpReminderSent)
	if err != nil {
		return model.HelpRequest{}, err
	}
	r.Channel = model.Channel(channel)
	r.Status = model.Status(status)

	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.HelpRequest{}, fmt.Errorf("parsing created_at for request %s: %w", r.ID, err)
	}
	if r.EscalatedAt, err = parseTime(escalatedAt); err != nil {
		return model.HelpRequest{}, fmt.Errorf("parsing escalated_at for request %s: %w", r.ID, err)
	}
	if r.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return model.HelpRequest{}, fmt.Errorf("parsing resolved_at for request %s: %w", r.ID, err)
	}
	if r.FollowUpAt, err = parseNullTime(followUpAt); err != nil {
		return model.HelpRequest{}, fmt.Errorf("parsing follow_up_at for request %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &r.History); err != nil {
		return model.HelpRequest{}, fmt.Errorf("parsing history for request %s: %w", r.ID, err)
	}
	return r, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Knowledge base ---

// UpsertKnowledge stores e keyed by its source request. An existing row
// keeps its ID and position.
func (s *Store) UpsertKnowledge(ctx context.Context, e model.KnowledgeEntry) error {
	return upsertKnowledge(ctx, s.db, e)
}

func upsertKnowledge(ctx context.Context, db execer, e model.KnowledgeEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (id, source_request_id, topic, question, answer, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_request_id) DO UPDATE SET
			topic = excluded.topic,
			question = excluded.question,
			answer = excluded.answer,
			updated_at = excluded.updated_at`,
		e.ID, e.SourceRequestID, e.Topic, e.Question, e.Answer, formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting knowledge entry for %s: %w", e.SourceRequestID, err)
	}
	return nil
}

// ListKnowledge returns entries newest-inserted first, matching the
// in-memory index order.
func (s *Store) ListKnowledge(ctx context.Context) ([]model.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_request_id, topic, question, answer, updated_at
		FROM knowledge_entries ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}
	defer rows.Close()

	var results []model.KnowledgeEntry
	for rows.Next() {
		var e model.KnowledgeEntry
		var updatedAt string
		if err := rows.Scan(&e.ID, &e.SourceRequestID, &e.Topic, &e.Question, &e.Answer, &updatedAt); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for entry %s: %w", e.ID, err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Persist writes a request and, when given, its knowledge entry in one
// transaction.
func (s *Store) Persist(ctx context.Context, r model.HelpRequest, e *model.KnowledgeEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning persist transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveRequest(ctx, tx, r); err != nil {
		return err
	}
	if e != nil {
		if err := upsertKnowledge(ctx, tx, *e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing request %s: %w", r.ID, err)
	}
	return nil
}

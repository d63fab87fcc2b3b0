package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/escalator/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestPersist_RollsBackWhenRequestWriteFails(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO help_requests").WillReturnError(boom)
	mock.ExpectRollback()

	err := s.Persist(context.Background(), sampleRequest("req-1", time.Now()), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_RollsBackWhenKnowledgeWriteFails(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("constraint failed")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO help_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO knowledge_entries").WillReturnError(boom)
	mock.ExpectRollback()

	entry := &model.KnowledgeEntry{ID: "kb-1", SourceRequestID: "req-1", Topic: "General"}
	err := s.Persist(context.Background(), sampleRequest("req-1", time.Now()), entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_CommitsBothWrites(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO help_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO knowledge_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry := &model.KnowledgeEntry{ID: "kb-1", SourceRequestID: "req-1", Topic: "General"}
	require.NoError(t, s.Persist(context.Background(), sampleRequest("req-1", time.Now()), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequests_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM help_requests WHERE status = \\?").
		WithArgs("pending").
		WillReturnError(errors.New("no such table"))

	_, err := s.ListRequests(context.Background(), model.StatusPending)
	assert.ErrorContains(t, err, "listing requests")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequest_BadHistoryJSON(t *testing.T) {
	s, mock := newMockStore(t)
	ts := formatTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	rows := sqlmock.NewRows([]string{
		"id", "customer_name", "customer_contact", "channel", "question", "status", "answer", "notes",
		"created_at", "escalated_at", "resolved_at", "history", "follow_up_at", "follow_up_reminder_sent",
	}).AddRow("req-1", "Dana", "", "phone", "q", "pending", "", "", ts, ts, nil, "not-json", nil, false)
	mock.ExpectQuery("SELECT .* FROM help_requests WHERE id = \\?").WithArgs("req-1").WillReturnRows(rows)

	_, err := s.GetRequest(context.Background(), "req-1")
	assert.ErrorContains(t, err, "parsing history")
}

package storage

import (
	"fmt"
	"time"

	"github.com/kalambet/escalator/internal/model"
)

// ErrNotFound is returned when a requested record does not exist. It
// matches model.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("storage: %w", model.ErrNotFound)

// Job is a unit of deferred work, currently outbound notifications.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Fixed-width fractions keep stored timestamps sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

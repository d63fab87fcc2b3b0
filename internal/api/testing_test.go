package api

import (
	"testing"

	"github.com/kalambet/escalator/internal/desk"
	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/notify"
	"github.com/kalambet/escalator/internal/storage"
)

func newTestDesk(t *testing.T) (*desk.Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := lifecycle.New(knowledge.New(), lifecycle.Options{Persister: store})
	return desk.New(engine, notify.NewOutbox(store), desk.Options{FollowUpMinutes: 30}), store
}

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/escalator/internal/storage"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []Notification
	err       error
}

func (s *recordingSink) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorker_DeliversQueuedNotification(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sink := &recordingSink{}

	n := Notification{Audience: AudienceCustomer, RequestID: "r1", Recipient: "Dana", Channel: "sms", Message: "Yes, we open at nine."}
	if err := NewOutbox(store).Enqueue(ctx, n); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, sink, 10*time.Millisecond, 0)
	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}
	if sink.count() != 1 || sink.delivered[0] != n {
		t.Fatalf("delivered = %+v, want [%+v]", sink.delivered, n)
	}

	counts, err := store.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[storage.JobCompleted] != 1 {
		t.Errorf("completed = %d, want 1", counts[storage.JobCompleted])
	}
}

func TestWorker_NoJobs(t *testing.T) {
	w := NewWorker(openTestStore(t), &recordingSink{}, 0, 5)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("expected no job to be processed")
	}
}

func TestWorker_SinkFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sink := &recordingSink{err: errors.New("gateway down")}

	if err := NewOutbox(store).Enqueue(ctx, Notification{Recipient: "Dana", Message: "hi"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, sink, 10*time.Millisecond, 0)
	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}

	counts, err := store.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[storage.JobPending] != 1 {
		t.Errorf("pending = %d, want 1 (retry scheduled)", counts[storage.JobPending])
	}

	// Backoff keeps the job out of reach for now.
	done, err = w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("job should not be claimable before its backoff expires")
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	job := storage.Job{ID: "bad", Type: JobType, PayloadJSON: "{", MaxAttempts: 1}
	if err := store.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	sink := &recordingSink{}
	if _, err := NewWorker(store, sink, 0, 0).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("sink received %d notifications, want 0", sink.count())
	}

	counts, err := store.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[storage.JobFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[storage.JobFailed])
	}
}

func TestWorker_RunDrainsAndStops(t *testing.T) {
	store := openTestStore(t)
	sink := &recordingSink{}
	outbox := NewOutbox(store)
	for i := 0; i < 3; i++ {
		if err := outbox.Enqueue(context.Background(), Notification{Recipient: "Dana", Message: "hi"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		NewWorker(store, sink, 5*time.Millisecond, 0).Run(ctx)
		close(finished)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if sink.count() != 3 {
		t.Errorf("delivered %d notifications, want 3", sink.count())
	}
}

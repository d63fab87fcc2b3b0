package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/escalator/internal/model"
)

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	s := New(Snapshot{
		Requests: []model.HelpRequest{{ID: "r1", History: []model.HistoryEntry{{Message: "hi"}}}},
	})

	snap := s.Get()
	snap.Requests[0].ID = "mutated"
	snap.Requests[0].History[0].Message = "mutated"
	snap.Busy = true

	again := s.Get()
	assert.Equal(t, "r1", again.Requests[0].ID)
	assert.Equal(t, "hi", again.Requests[0].History[0].Message)
	assert.False(t, again.Busy)
}

func TestSet_PatchIsCopied(t *testing.T) {
	s := New(Snapshot{})
	reqs := []model.HelpRequest{{ID: "r1"}}
	s.Set(Patch{Requests: &reqs})

	reqs[0].ID = "mutated"
	assert.Equal(t, "r1", s.Get().Requests[0].ID)
}

func TestSet_MergesOnlyGivenFields(t *testing.T) {
	s := New(Snapshot{RequestFilter: "pending", KBSearch: "hours"})
	s.Set(Patch{Busy: Ref(true)})

	got := s.Get()
	assert.True(t, got.Busy)
	assert.Equal(t, "pending", got.RequestFilter)
	assert.Equal(t, "hours", got.KBSearch)
}

func TestSubscribe_CatchUpAndOrder(t *testing.T) {
	s := New(Snapshot{})
	var calls []string

	s.Subscribe("a", func(st Snapshot) { calls = append(calls, fmt.Sprintf("a:%v", st.Busy)) })
	s.Subscribe("b", func(st Snapshot) { calls = append(calls, fmt.Sprintf("b:%v", st.Busy)) })
	require.Equal(t, []string{"a:false", "b:false"}, calls)

	calls = nil
	s.Set(Patch{Busy: Ref(true)})
	assert.Equal(t, []string{"a:true", "b:true"}, calls)
}

func TestSubscribe_ReplaceKeepsPosition(t *testing.T) {
	s := New(Snapshot{})
	var calls []string

	unsubOld := s.Subscribe("a", func(Snapshot) { calls = append(calls, "old-a") })
	s.Subscribe("b", func(Snapshot) { calls = append(calls, "b") })
	s.Subscribe("a", func(Snapshot) { calls = append(calls, "new-a") })

	calls = nil
	s.Set(Patch{Ready: Ref(true)})
	assert.Equal(t, []string{"new-a", "b"}, calls)

	// The stale unsubscribe must not remove the replacement.
	unsubOld()
	calls = nil
	s.Set(Patch{Ready: Ref(false)})
	assert.Equal(t, []string{"new-a", "b"}, calls)
}

func TestUnsubscribe(t *testing.T) {
	s := New(Snapshot{})
	n := 0
	unsub := s.Subscribe("a", func(Snapshot) { n++ })
	unsub()
	s.Set(Patch{Busy: Ref(true)})
	assert.Equal(t, 1, n)
}

func TestSet_NestedUpdatesDoNotInterleave(t *testing.T) {
	s := New(Snapshot{})
	var calls []string

	s.Subscribe("a", func(st Snapshot) {
		calls = append(calls, "a:"+st.RequestSearch)
		if st.RequestSearch == "one" {
			s.Set(Patch{RequestSearch: Ref("two")})
		}
	})
	s.Subscribe("b", func(st Snapshot) { calls = append(calls, "b:"+st.RequestSearch) })

	calls = nil
	s.Set(Patch{RequestSearch: Ref("one")})
	assert.Equal(t, []string{"a:one", "b:one", "a:two", "b:two"}, calls)
}

func TestSet_RecoversAfterObserverPanic(t *testing.T) {
	s := New(Snapshot{})
	var seen []string
	s.Subscribe("fragile", func(st Snapshot) {
		if st.KBSearch == "boom" {
			panic("observer failed")
		}
		seen = append(seen, st.KBSearch)
	})
	s.Subscribe("steady", func(st Snapshot) { seen = append(seen, "steady:"+st.KBSearch) })

	seen = nil
	assert.Panics(t, func() { s.Set(Patch{KBSearch: Ref("boom")}) })

	s.Set(Patch{KBSearch: Ref("after")})
	assert.Equal(t, []string{"after", "steady:after"}, seen)
	assert.Equal(t, "after", s.Get().KBSearch)
}

func TestObserverCannotCorruptState(t *testing.T) {
	s := New(Snapshot{Requests: []model.HelpRequest{{ID: "r1"}}})
	s.Subscribe("evil", func(st Snapshot) {
		if len(st.Requests) > 0 {
			st.Requests[0].ID = "mutated"
		}
	})
	s.Set(Patch{Busy: Ref(true)})
	assert.Equal(t, "r1", s.Get().Requests[0].ID)
}

func TestPushActivity_CapsAtMax(t *testing.T) {
	s := New(Snapshot{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxActivity+5; i++ {
		s.PushActivity(fmt.Sprintf("event %d", i), ToneInfo, now.Add(time.Duration(i)*time.Second))
	}

	act := s.Get().Activity
	require.Len(t, act, MaxActivity)
	assert.Equal(t, fmt.Sprintf("event %d", MaxActivity+4), act[0].Message)
	assert.NotEmpty(t, act[0].ID)
}

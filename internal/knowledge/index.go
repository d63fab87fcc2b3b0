// Package knowledge keeps the in-memory knowledge base derived from
// resolved requests.
package knowledge

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/escalator/internal/model"
)

// Index holds knowledge entries most-recently-updated first. There is at
// most one entry per source request.
type Index struct {
	mu      sync.RWMutex
	entries []model.KnowledgeEntry
	newID   func() string
}

// New returns an empty Index that allocates ULID identifiers.
func New() *Index {
	return &Index{newID: func() string { return ulid.Make().String() }}
}

// NewWithIDs returns an empty Index using newID for identifiers.
func NewWithIDs(newID func() string) *Index {
	return &Index{newID: newID}
}

// Load replaces the index contents. Entries are kept in the given order;
// duplicates of a source request after the first are dropped.
func (x *Index) Load(entries []model.KnowledgeEntry) {
	seen := make(map[string]bool, len(entries))
	out := make([]model.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.SourceRequestID] {
			continue
		}
		seen[e.SourceRequestID] = true
		out = append(out, e)
	}

	x.mu.Lock()
	x.entries = out
	x.mu.Unlock()
}

// Upsert replaces the entry for sourceRequestID in place, keeping its ID,
// or prepends a new one.
func (x *Index) Upsert(sourceRequestID, topic, question, answer string, now time.Time) model.KnowledgeEntry {
	x.mu.Lock()
	defer x.mu.Unlock()

	e := x.planLocked(sourceRequestID, topic, question, answer, now)
	x.putLocked(e)
	return e
}

// Plan returns the entry Upsert would store without changing the index.
// A new entry gets a freshly allocated ID; Put it to commit.
func (x *Index) Plan(sourceRequestID, topic, question, answer string, now time.Time) model.KnowledgeEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.planLocked(sourceRequestID, topic, question, answer, now)
}

// Put stores e, replacing any entry with the same source request.
func (x *Index) Put(e model.KnowledgeEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.putLocked(e)
}

func (x *Index) planLocked(sourceRequestID, topic, question, answer string, now time.Time) model.KnowledgeEntry {
	e := model.KnowledgeEntry{
		SourceRequestID: sourceRequestID,
		Topic:           topic,
		Question:        question,
		Answer:          answer,
		UpdatedAt:       now,
	}
	if i := x.indexLocked(sourceRequestID); i >= 0 {
		e.ID = x.entries[i].ID
	} else {
		e.ID = x.newID()
	}
	return e
}

func (x *Index) putLocked(e model.KnowledgeEntry) {
	if i := x.indexLocked(e.SourceRequestID); i >= 0 {
		x.entries[i] = e
		return
	}
	x.entries = append([]model.KnowledgeEntry{e}, x.entries...)
}

func (x *Index) indexLocked(sourceRequestID string) int {
	for i, e := range x.entries {
		if e.SourceRequestID == sourceRequestID {
			return i
		}
	}
	return -1
}

// List returns a copy of all entries in storage order.
func (x *Index) List() []model.KnowledgeEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.KnowledgeEntry, len(x.entries))
	copy(out, x.entries)
	return out
}

// BySource returns the entry learned from the given request.
func (x *Index) BySource(sourceRequestID string) (model.KnowledgeEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i := x.indexLocked(sourceRequestID); i >= 0 {
		return x.entries[i], true
	}
	return model.KnowledgeEntry{}, false
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Search returns entries matching query, in storage order.
func (x *Index) Search(query string) []model.KnowledgeEntry {
	return Filter(x.List(), query)
}

// ForRequest narrows entries to those learned from requestID, which is what
// the knowledge view shows while a request is selected.
func ForRequest(entries []model.KnowledgeEntry, requestID string) []model.KnowledgeEntry {
	var out []model.KnowledgeEntry
	for _, e := range entries {
		if e.SourceRequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the entries whose topic, question or answer contain query,
// case-insensitively. An empty query matches everything.
func Filter(entries []model.KnowledgeEntry, query string) []model.KnowledgeEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		if q == "" || strings.Contains(Haystack(e), q) {
			out = append(out, e)
		}
	}
	return out
}

// Haystack is the lowercase text an entry is matched against.
func Haystack(e model.KnowledgeEntry) string {
	return strings.ToLower(e.Topic + " " + e.Question + " " + e.Answer)
}

// Package suggest matches an incoming question against the knowledge base
// and drafts a personalised reply from the best entry.
package suggest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/model"
)

// minTokenLen is the shortest question word that counts toward a score.
const minTokenLen = 4

// Tokens returns the distinct lowercase words of question longer than three
// characters, in first-seen order.
func Tokens(question string) []string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if utf8.RuneCountInString(w) < minTokenLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Score counts the question tokens that occur anywhere in the entry's
// topic, question or answer.
func Score(req model.HelpRequest, entry model.KnowledgeEntry) int {
	return scoreTokens(Tokens(req.Question), knowledge.Haystack(entry))
}

func scoreTokens(tokens []string, haystack string) int {
	score := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			score++
		}
	}
	return score
}

// Rank returns the index and score of the best entry. Ties go to the
// earliest entry. When nothing scores, the first entry is returned with a
// zero score. ok is false only for an empty knowledge base.
func Rank(req model.HelpRequest, entries []model.KnowledgeEntry) (best int, score int, ok bool) {
	if len(entries) == 0 {
		return -1, 0, false
	}
	tokens := Tokens(req.Question)
	best, score = 0, -1
	for i, e := range entries {
		if s := scoreTokens(tokens, knowledge.Haystack(e)); s > score {
			best, score = i, s
		}
	}
	return best, score, true
}

// Suggester turns the best ranked entry into a Suggestion.
type Suggester struct {
	synth *Synthesizer
}

// NewSuggester returns a Suggester that drafts answers with synth.
// A nil synth uses NewSynthesizer(nil).
func NewSuggester(synth *Synthesizer) *Suggester {
	if synth == nil {
		synth = NewSynthesizer(nil)
	}
	return &Suggester{synth: synth}
}

// BestMatch returns a suggestion for req, or false when entries is empty.
// A suggestion with Confident == false is a fallback, not a match.
func (s *Suggester) BestMatch(req model.HelpRequest, entries []model.KnowledgeEntry) (model.Suggestion, bool) {
	i, score, ok := Rank(req, entries)
	if !ok {
		return model.Suggestion{}, false
	}
	e := entries[i]
	return model.Suggestion{
		Topic:              e.Topic,
		StoredAnswer:       e.Answer,
		PersonalizedAnswer: s.synth.Synthesize(req, e),
		Question:           e.Question,
		SourceRequestID:    e.SourceRequestID,
		Score:              score,
		Confident:          score > 0,
	}, true
}

// AutoAnswer returns a stored answer when one question contains the other,
// ignoring case.
func AutoAnswer(question string, entries []model.KnowledgeEntry) (model.KnowledgeEntry, bool) {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return model.KnowledgeEntry{}, false
	}
	for _, e := range entries {
		eq := strings.ToLower(strings.TrimSpace(e.Question))
		if eq == "" {
			continue
		}
		if strings.Contains(q, eq) || strings.Contains(eq, q) {
			return e, true
		}
	}
	return model.KnowledgeEntry{}, false
}

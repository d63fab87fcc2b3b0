package suggest

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/textnorm"
)

// FallbackBody is used when an entry has no usable answer.
const FallbackBody = "I'll dig into this and get back shortly."

// LeadIns are the lead-in templates a draft can open with. Each takes the
// topic fragment of the customer's question.
var LeadIns = [...]string{
	"great question about %s.",
	"thanks for asking about %s.",
	"here's what we can share about %s:",
}

// Picker returns an index in [0, n).
type Picker func(n int) int

// Synthesizer drafts personalised replies.
type Synthesizer struct {
	pick Picker
}

// NewSynthesizer returns a Synthesizer choosing lead-ins with pick.
// A nil pick chooses uniformly at random.
func NewSynthesizer(pick Picker) *Synthesizer {
	if pick == nil {
		pick = rand.IntN
	}
	return &Synthesizer{pick: pick}
}

// Synthesize builds "Hi {name}, {lead-in} {answer}" for req using entry's
// answer with greeting and template phrasing removed.
func (s *Synthesizer) Synthesize(req model.HelpRequest, entry model.KnowledgeEntry) string {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = "there"
	}

	fragment := TopicFragment(req.Question)
	if fragment == "" {
		fragment = strings.ToLower(strings.TrimSpace(entry.Topic))
	}
	if fragment == "" {
		fragment = "your question"
	}

	i := s.pick(len(LeadIns))
	if i < 0 || i >= len(LeadIns) {
		i = 0
	}
	leadIn := fmt.Sprintf(LeadIns[i], fragment)

	return fmt.Sprintf("Hi %s, %s %s", name, leadIn, capitalize(Body(entry.Answer)))
}

// Body returns the cleaned answer, the raw answer if cleaning empties it,
// or FallbackBody.
func Body(answer string) string {
	if cleaned := textnorm.StripBoilerplate(answer); cleaned != "" {
		return cleaned
	}
	if raw := strings.TrimSpace(answer); raw != "" {
		return raw
	}
	return FallbackBody
}

// TopicFragment returns the first sentence of question, lowercased and
// without trailing punctuation.
func TopicFragment(question string) string {
	for _, seg := range strings.FieldsFunc(question, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if seg = strings.TrimSpace(seg); seg != "" {
			return strings.ToLower(strings.TrimSuffix(seg, "?"))
		}
	}
	return ""
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

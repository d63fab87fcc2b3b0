// Package textnorm removes canned greeting and template phrasing from
// stored answers so they can be reused in a new reply.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|greetings|good\s+(?:morning|afternoon|evening))\s+[a-z][a-z'.-]{0,30}\s*,?\s*`)

	preambleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*great\s+question\s+about\s+[^.]{1,80}\.\s*`),
		regexp.MustCompile(`(?i)^\s*thanks\s+for\s+asking\s+about\s+[^.]{1,80}\.\s*`),
		regexp.MustCompile(`(?i)^\s*here(?:'|’)?s\s+what\s+we\s+can\s+share\s+about\s+[^:]{1,80}:\s*`),
	}

	trailingHelloRe = regexp.MustCompile(`(?i)(?:^|\s)hello\s*$`)
)

// StripBoilerplate removes leading greetings and template preambles until
// none remain, then drops one trailing colon and a dangling "hello".
func StripBoilerplate(text string) string {
	s := text
	for {
		next := stripOnce(s)
		if next == s {
			break
		}
		s = next
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ":")
	s = trailingHelloRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func stripOnce(s string) string {
	s = removeAll(greetingRe, s)
	for _, re := range preambleRes {
		s = removeAll(re, s)
	}
	return s
}

// removeAll strips re from the front of s repeatedly.
func removeAll(re *regexp.Regexp, s string) string {
	for {
		loc := re.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			return s
		}
		s = s[loc[1]:]
	}
}

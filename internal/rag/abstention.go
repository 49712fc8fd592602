package rag

import "strings"

// AbstentionDetector reports whether a generated answer declines to answer.
type AbstentionDetector interface {
	Abstained(answer string) bool
}

// PhraseDetector matches any phrase case-insensitively.
type PhraseDetector struct {
	phrases []string
}

func NewPhraseDetector(phrases []string) *PhraseDetector {
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return &PhraseDetector{phrases: lower}
}

func (d *PhraseDetector) Abstained(answer string) bool {
	answer = strings.ToLower(answer)
	for _, p := range d.phrases {
		if strings.Contains(answer, p) {
			return true
		}
	}
	return false
}

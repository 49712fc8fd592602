// Package chunker splits extracted text into sentence-aligned pieces under a token budget.
package chunker

import (
	"regexp"
	"strings"
)

var (
	sentenceRe = regexp.MustCompile(`[^\n]+?(?:[.!?]+["')\]]*(?:[ \t]+|\n+|$)|\n+|$)`)
	tokenRe    = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)
)

// Piece is one chunk. The first Overlap sentences repeat the tail of the previous piece.
type Piece struct {
	Text       string
	TokenCount int
	Sentences  []string
	Overlap    int
}

type Chunker struct {
	size    int
	overlap int
}

// New returns a chunker with a token budget of size and an overlap budget of overlap.
// An overlap that is not smaller than size is reduced to a quarter of size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// CountTokens counts word runs and standalone punctuation marks.
func CountTokens(s string) int {
	return len(tokenRe.FindAllStringIndex(s, -1))
}

// SplitSentences returns the trimmed, non-empty sentences of text in order.
func SplitSentences(text string) []string {
	var out []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Split chunks text. When the next sentence would overflow the budget the current
// piece is emitted and trailing whole sentences, up to the overlap budget, start
// the next one. A single sentence longer than the budget becomes its own piece.
func (c *Chunker) Split(text string) []Piece {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		pieces    []Piece
		cur       []string
		curTokens int
		carried   int
	)
	emit := func() {
		pieces = append(pieces, Piece{
			Text:       strings.Join(cur, " "),
			TokenCount: curTokens,
			Sentences:  append([]string(nil), cur...),
			Overlap:    carried,
		})
	}

	for _, s := range sentences {
		n := CountTokens(s)
		if len(cur) > 0 && curTokens+n > c.size {
			emit()

			var carry []string
			carryTokens := 0
			for j := len(cur) - 1; j >= 0; j-- {
				t := CountTokens(cur[j])
				if carryTokens+t > c.overlap {
					break
				}
				carry = append([]string{cur[j]}, carry...)
				carryTokens += t
			}
			for len(carry) > 0 && carryTokens+n > c.size {
				carryTokens -= CountTokens(carry[0])
				carry = carry[1:]
			}
			cur, curTokens, carried = carry, carryTokens, len(carry)
		}
		cur = append(cur, s)
		curTokens += n
	}
	emit()
	return pieces
}

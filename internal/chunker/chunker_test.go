package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Hello there. How are you? Fine!\nA heading\nTrailing words")
	assert.Equal(t, []string{"Hello there.", "How are you?", "Fine!", "A heading", "Trailing words"}, got)
	assert.Empty(t, SplitSentences("   \n "))
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 5, CountTokens("Hello, world! x"))
	assert.Equal(t, 0, CountTokens(""))
}

func TestSplit_ShortTextIsOnePiece(t *testing.T) {
	pieces := New(512, 50).Split("Page 1 is about alpha. It is short.")
	require.Len(t, pieces, 1)
	assert.Equal(t, "Page 1 is about alpha. It is short.", pieces[0].Text)
	assert.Equal(t, 0, pieces[0].Overlap)
	assert.Nil(t, New(10, 2).Split(""))
}

func TestSplit_ReconstructsAndRespectsBudget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about topic %d in some detail. ", i, i%7)
	}
	b.WriteString(strings.Repeat("overlong ", 40) + "sentence.")
	text := b.String()

	const size, overlap = 40, 12
	pieces := New(size, overlap).Split(text)
	require.Greater(t, len(pieces), 1)

	var rebuilt []string
	for i, p := range pieces {
		if len(p.Sentences) > 1 {
			assert.LessOrEqual(t, p.TokenCount, size, "piece %d over budget", i)
		}
		if i == 0 {
			assert.Equal(t, 0, p.Overlap)
		} else {
			prev := pieces[i-1].Sentences
			assert.Equal(t, prev[len(prev)-p.Overlap:], p.Sentences[:p.Overlap])
		}
		rebuilt = append(rebuilt, p.Sentences[p.Overlap:]...)
	}
	assert.Equal(t, SplitSentences(text), rebuilt)

	last := pieces[len(pieces)-1]
	assert.Len(t, last.Sentences, 1)
	assert.Greater(t, last.TokenCount, size)
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(20, 40)
	assert.Equal(t, 5, c.overlap)
}

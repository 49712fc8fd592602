package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/models"
)

const (
	maxExpansions      = 3
	maxSuggestions     = 3
	maxSuggestionChars = 150
	suggestSnippetLen  = 500
	suggestChunks      = 3
)

// GenerateAnswer prompts the generator with the cited context. Generator
// failures are reported in the answer, not returned.
func (e *Engine) GenerateAnswer(ctx context.Context, question string, ev models.Evidence) models.Answer {
	contextText, citations := BuildCitedContext(ev)
	answer := models.Answer{
		Query:     question,
		Citations: citations,
		ContextUsed: models.ContextUsed{
			TextChunks:    len(ev.Text),
			Images:        len(ev.Image),
			AudioSegments: len(ev.Audio),
		},
	}

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, contextText, question)
	text, err := e.Generator.Complete(ctx, prompt, llmservice.Options{
		Temperature: llmservice.Temperature(e.opts.Temperature),
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate answer")
		return models.Answer{
			Query:     question,
			Text:      fmt.Sprintf("Error generating answer: %v", err),
			Citations: []models.Citation{},
			Error:     err.Error(),
		}
	}
	answer.Text = strings.TrimSpace(text)

	if e.Abstention.Abstained(answer.Text) {
		log.Info().Str("query", question).Msg("Model abstained, dropping citations")
		answer.Abstained = true
		answer.Citations = []models.Citation{}
		answer.ContextUsed = models.ContextUsed{}
	}
	if answer.Citations == nil {
		answer.Citations = []models.Citation{}
	}
	return answer
}

// Ask retrieves evidence for question and answers from it.
func (e *Engine) Ask(ctx context.Context, question string, topK int, modalities []models.Modality) (models.Answer, error) {
	ev, err := e.Retrieve(ctx, question, topK, modalities)
	if err != nil {
		return models.Answer{}, err
	}
	return e.GenerateAnswer(ctx, question, ev), nil
}

// ExpandQuery returns question followed by up to three alternative phrasings.
func (e *Engine) ExpandQuery(ctx context.Context, question string) []string {
	out := []string{question}
	text, err := e.Generator.Complete(ctx, fmt.Sprintf(models.ExpandQueryPromptTemplate, question), llmservice.Options{
		Temperature: llmservice.Temperature(e.opts.ExpansionTemperature),
		MaxTokens:   e.opts.ExpansionMaxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query expansion failed, using original query")
		return out
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(question)): true}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		key := strings.ToLower(line)
		if line == "" || isListItem(line) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) == maxExpansions+1 {
			break
		}
	}
	return out
}

// isListItem reports whether line starts with "-" or a number followed by a
// dot. Expansions come back as bare lines; list items are echoed instructions.
func isListItem(line string) bool {
	if strings.HasPrefix(line, "-") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && line[i] == '.'
}

// stripListMarker removes bullets and "1." or "2)" prefixes.
func stripListMarker(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*• ")
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}

// SuggestQuestions asks the generator for short questions about a document's
// first chunks. Only lines that look like questions are kept.
func (e *Engine) SuggestQuestions(ctx context.Context, docID int64) ([]string, error) {
	chunks, err := e.Store.ChunksByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []string{}, nil
	}
	if len(chunks) > suggestChunks {
		chunks = chunks[:suggestChunks]
	}

	snippets := make([]string, 0, len(chunks))
	for _, c := range chunks {
		s := c.Content
		if r := []rune(s); len(r) > suggestSnippetLen {
			s = string(r[:suggestSnippetLen])
		}
		snippets = append(snippets, s)
	}

	text, err := e.Generator.Complete(ctx, fmt.Sprintf(models.SuggestPromptTemplate, strings.Join(snippets, models.ContextSeparator)), llmservice.Options{
		Temperature: llmservice.Temperature(e.opts.ExpansionTemperature),
		MaxTokens:   e.opts.ExpansionMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = stripListMarker(line)
		if line == "" || len(line) >= maxSuggestionChars || !strings.Contains(line, "?") {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

package models

const (
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	TextSectionHeader  = "## Relevant Text Documents:"
	ImageSectionHeader = "## Relevant Images:"
	AudioSectionHeader = "## Relevant Audio Transcripts:"

	UnknownSource = "Unknown"
)

var (
	// AnswerPromptTemplate takes the cited context and the question.
	AnswerPromptTemplate = `You are a precise AI assistant. Answer the question strictly using ONLY the provided context.
If the answer is not found in the context, say "I cannot find the answer in the provided documents."
Do not use outside knowledge. Use citations [1], [2], etc. to reference the sources.
If multiple sources support your answer, cite all of them.

Context:
%s

Question: %s

Answer (include citations):`

	ExpandQueryPromptTemplate = `Generate 3 alternative phrasings of the following query to improve search results.
Return only the alternative queries, one per line, without numbering or explanations.

Original query: %s

Alternative queries:`

	SuggestPromptTemplate = `Based on the following text snippets from a user's documents, generate 3 short, specific, and interesting questions that a user might ask to learn more about this content.

Text Snippets:
%s

Generate ONLY the 3 questions, one per line. Do not number them. Do not add any other text.`

	// AbstentionPhrases mark a generated answer as "not in context".
	AbstentionPhrases = []string{
		"cannot find",
		"not found in",
		"no information",
		"don't have information",
		"doesn't contain",
		"not mentioned",
		"not available in",
	}
)

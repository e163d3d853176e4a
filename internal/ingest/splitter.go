package ingest

import (
	"strings"
	"unicode"
)

// Splitter cuts document text into retrieval segments. Segments break on
// sentence boundaries where possible and never overlap; MaxTokens caps the
// approximate token count per segment.
type Splitter struct {
	MaxTokens int
}

// NewSplitter returns a splitter with the given per-segment token cap.
func NewSplitter(maxTokens int) *Splitter {
	return &Splitter{MaxTokens: maxTokens}
}

// Split returns the segments of text in order. Whitespace-only input yields
// no segments. A single sentence longer than the cap is split on word
// boundaries rather than dropped.
func (s *Splitter) Split(text string) []string {
	var segments []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if seg := strings.TrimSpace(current.String()); seg != "" {
			segments = append(segments, seg)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, sentence := range splitSentences(text) {
		tokens := estimateTokens(sentence)

		if tokens > s.MaxTokens {
			// Oversized sentence: flush what we have and hard-wrap it.
			flush()
			for _, part := range s.wrapWords(sentence) {
				segments = append(segments, part)
			}
			continue
		}

		if currentTokens+tokens > s.MaxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}
	flush()

	return segments
}

// wrapWords splits one oversized sentence into word-bounded chunks.
func (s *Splitter) wrapWords(sentence string) []string {
	words := strings.Fields(sentence)
	var chunks []string
	var current strings.Builder
	count := 0

	for _, w := range words {
		if count >= s.MaxTokens {
			chunks = append(chunks, current.String())
			current.Reset()
			count = 0
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
		count++
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences cuts text on sentence-ending punctuation and blank lines.
// The terminator stays attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if isSentenceEnd(r) {
			// Consume trailing closers like quotes or brackets.
			for i+1 < len(runes) && isCloser(runes[i+1]) {
				i++
				current.WriteRune(runes[i])
			}
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
			continue
		}

		// A blank line ends the sentence even without punctuation.
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '」', '』', '”':
		return true
	}
	return false
}

// estimateTokens approximates the token count of a segment. Words count
// one token each; CJK runes count one token apiece since they rarely
// cluster into multi-character tokens.
func estimateTokens(s string) int {
	tokens := 0
	inWord := false
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			tokens++
			inWord = false
			continue
		}
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			tokens++
			inWord = true
		}
	}
	return tokens
}

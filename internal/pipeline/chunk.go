package pipeline

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// chunkText splits text into roughly sentence-sized chunks of at most
// maxChars characters. Sentences are never split unless a single sentence
// already exceeds the limit, in which case it becomes its own chunk.
func chunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var buffer []string
	currentLen := 0
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if currentLen+len(sentence)+1 > maxChars && len(buffer) > 0 {
			chunks = append(chunks, strings.Join(buffer, " "))
			buffer = []string{sentence}
			currentLen = len(sentence)
		} else {
			buffer = append(buffer, sentence)
			currentLen += len(sentence) + 1
		}
	}
	if len(buffer) > 0 {
		chunks = append(chunks, strings.Join(buffer, " "))
	}
	return chunks
}

// splitSentences breaks text after sentence-ending punctuation followed by
// whitespace, keeping the punctuation with the sentence.
func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	return strings.Split(marked, "\x00")
}

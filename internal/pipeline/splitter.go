// ABOUTME: Incremental sentence splitter for streamed model output
// ABOUTME: Buffers deltas and emits complete sentences for speech synthesis

package pipeline

import "strings"

// minSentenceLen avoids emitting fragments like "Dr." or "1." as
// standalone sentences.
const minSentenceLen = 8

// SentenceSplitter accumulates streamed text deltas and emits complete
// sentences. Not safe for concurrent use.
type SentenceSplitter struct {
	buf strings.Builder
}

func isBoundary(r byte) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// Push appends a delta and calls emit for every complete sentence now
// available.
func (s *SentenceSplitter) Push(delta string, emit func(string)) {
	s.buf.WriteString(delta)

	text := s.buf.String()
	start := 0
	for i := 0; i < len(text); i++ {
		if !isBoundary(text[i]) {
			continue
		}
		// Swallow runs of terminators ("...", "?!") as one boundary
		end := i + 1
		for end < len(text) && isBoundary(text[end]) {
			end++
		}
		if end-start < minSentenceLen {
			i = end - 1
			continue
		}
		sentence := strings.TrimSpace(text[start:end])
		if sentence != "" {
			emit(sentence)
		}
		start = end
		i = end - 1
	}

	s.buf.Reset()
	if start < len(text) {
		s.buf.WriteString(text[start:])
	}
}

// Flush emits whatever remains in the buffer as a final sentence.
func (s *SentenceSplitter) Flush(emit func(string)) {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest != "" {
		emit(rest)
	}
}

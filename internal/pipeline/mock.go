// ABOUTME: Scripted in-memory pipeline for tests
// ABOUTME: Replays configured transcripts, deltas, and audio without network calls

package pipeline

import (
	"context"
	"sync"
)

// Mock is a scripted Pipeline for tests. Zero value is usable: it
// transcribes to TranscribeText, streams ReplyDeltas, and synthesizes
// AudioData per sentence.
type Mock struct {
	mu sync.Mutex

	TranscribeText string
	TranscribeErr  error
	ReplyDeltas    []string
	ReplyUsage     Usage
	ReplyMetrics   Metrics
	ReplyErr       error
	AudioData      []byte
	SynthesizeErr  error

	// Block, when non-nil, is closed by the test to release Respond.
	Block chan struct{}

	requests []Request
}

func (m *Mock) Transcribe(_ context.Context, _ []byte, _ bool) (string, error) {
	if m.TranscribeErr != nil {
		return "", m.TranscribeErr
	}
	return m.TranscribeText, nil
}

func (m *Mock) Respond(ctx context.Context, req Request, onDelta func(string), onSentence func(string)) (Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if m.ReplyErr != nil {
		return Result{}, m.ReplyErr
	}

	var splitter SentenceSplitter
	var text string
	for _, d := range m.ReplyDeltas {
		text += d
		if onDelta != nil {
			onDelta(d)
		}
		if onSentence != nil {
			splitter.Push(d, onSentence)
		}
	}
	if onSentence != nil {
		splitter.Flush(onSentence)
	}

	return Result{Text: text, Usage: m.ReplyUsage, Metrics: m.ReplyMetrics}, nil
}

func (m *Mock) Synthesize(_ context.Context, _ string) ([]byte, error) {
	if m.SynthesizeErr != nil {
		return nil, m.SynthesizeErr
	}
	return m.AudioData, nil
}

// Requests returns a copy of every Respond request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// ABOUTME: Per-request worker goroutines running the speech/LLM pipeline
// ABOUTME: Publishes deltas, audio, transcripts, and metrics through the queue

package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lantern-ai/lantern-gateway/internal/pipeline"
	"github.com/lantern-ai/lantern-gateway/internal/session"
	"github.com/lantern-ai/lantern-gateway/internal/wire"
)

// audioChunkSize splits synthesized audio into transport-sized pieces.
const audioChunkSize = 16 * 1024

// persistTimeout bounds transcript writes so a slow disk cannot stall a
// response.
const persistTimeout = 5 * time.Second

// runTextWorker handles one text request. The caller retained the session;
// the worker releases it exactly once on exit.
func (g *Gateway) runTextWorker(s *session.Session, input string, images []string) {
	defer g.registry.Release(s)

	logger := g.logger.With("request_id", uuid.New().String(), "session_id", s.ID)
	g.respond(logger, s, input, images)
}

// runAudioWorker handles one captured utterance: transcription first, then
// the same response path as text.
func (g *Gateway) runAudioWorker(s *session.Session, audio []byte, opus bool) {
	defer g.registry.Release(s)

	logger := g.logger.With("request_id", uuid.New().String(), "session_id", s.ID)

	text, err := g.pipe.Transcribe(context.Background(), audio, opus)
	if err != nil {
		logger.Warn("transcription failed", "error", err, "bytes", len(audio))
		g.queue.Enqueue(wire.NewError(s.ID, wire.ErrCodeASRFailed, "could not transcribe audio", true))
		g.queue.Enqueue(wire.NewState(s.ID, wire.StateIdle, ""))
		return
	}
	if strings.TrimSpace(text) == "" {
		g.queue.Enqueue(wire.NewState(s.ID, wire.StateIdle, ""))
		return
	}
	g.respond(logger, s, text, nil)
}

// respond runs the model for one user turn and publishes the results.
// Every publication checks the session's superseded flags so a cancel or
// disconnect stops output at the next checkpoint.
func (g *Gateway) respond(logger *slog.Logger, s *session.Session, input string, images []string) {
	if s.Superseded() {
		return
	}

	req := pipeline.Request{
		SystemPrompt: g.cfg.Pipeline.SystemPrompt,
		Messages:     historyMessages(s),
		Input:        input,
		Images:       images,
	}
	g.queue.Enqueue(wire.NewTranscript(s.ID, "user", input))
	s.AppendMessage("user", input)
	g.persist(logger, s, "user", input)

	var (
		startOnce sync.Once
		speaking  bool
	)

	onDelta := func(d string) {
		if s.Superseded() {
			return
		}
		startOnce.Do(func() {
			g.queue.Enqueue(wire.NewStreamStart(s.ID, s.StartStream()))
		})
		// The session's stream flag gates delivery; once the stream
		// ended, late deltas are dropped on the floor.
		id, active := s.DeltaStream()
		if !active {
			return
		}
		for len(d) > 0 {
			piece := splitDelta(d)
			g.queue.Enqueue(wire.NewStreamDelta(s.ID, id, piece))
			d = d[len(piece):]
		}
	}

	var onSentence func(string)
	if g.cfg.Pipeline.TTSEnabled {
		onSentence = func(sentence string) {
			if s.Superseded() {
				return
			}
			if !speaking {
				speaking = true
				g.queue.Enqueue(wire.NewState(s.ID, wire.StateSpeaking, ""))
			}
			data, err := g.pipe.Synthesize(context.Background(), sentence)
			if err != nil {
				logger.Warn("speech synthesis failed", "error", err)
				return
			}
			for off := 0; off < len(data); off += audioChunkSize {
				end := off + audioChunkSize
				if end > len(data) {
					end = len(data)
				}
				g.queue.Enqueue(wire.NewAudioChunk(s.ID, data[off:end]))
			}
			g.queue.Enqueue(wire.NewAudioEnd(s.ID))
		}
	}

	result, err := g.pipe.Respond(context.Background(), req, onDelta, onSentence)
	if err != nil {
		logger.Error("model response failed", "error", err)
		if _, active := s.DeltaStream(); active {
			g.queue.Enqueue(wire.NewStreamEnd(s.ID, s.EndStream(), "error"))
		}
		g.queue.Enqueue(wire.NewError(s.ID, wire.ErrCodeLLMError, "response generation failed", true))
		g.queue.Enqueue(wire.NewState(s.ID, wire.StateIdle, ""))
		return
	}

	// Record the turn even when the client went away; a resumed session
	// sees the completed exchange in its history.
	s.AppendMessage("assistant", result.Text)
	g.persist(logger, s, "assistant", result.Text)

	if s.Superseded() {
		if _, active := s.DeltaStream(); active {
			s.EndStream()
		}
		return
	}

	if _, active := s.DeltaStream(); active {
		g.queue.Enqueue(wire.NewStreamEnd(s.ID, s.EndStream(), "complete"))
	}
	g.queue.Enqueue(wire.NewTranscript(s.ID, "assistant", result.Text))

	if result.Usage.MaxTokens > 0 {
		g.queue.Enqueue(wire.NewContextUsage(s.ID,
			result.Usage.CurrentTokens, result.Usage.MaxTokens, result.Usage.Threshold))
	}
	g.queue.Enqueue(wire.NewMetricsUpdate(s.ID, wire.StateIdle,
		int(result.Metrics.TTFTMs), result.Metrics.TokenRate, contextPct(result.Usage)))
	g.queue.Enqueue(wire.NewState(s.ID, wire.StateIdle, ""))

	logger.Info("request complete",
		"ttft_ms", result.Metrics.TTFTMs,
		"token_rate", result.Metrics.TokenRate,
		"chars", len(result.Text),
	)
}

func (g *Gateway) persist(logger *slog.Logger, s *session.Session, role, text string) {
	if g.store == nil || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.store.Append(ctx, s.Key, role, text); err != nil {
		logger.Warn("transcript persist failed", "error", err)
	}
}

// splitDelta returns the longest prefix of d that fits in one stream
// delta without cutting a UTF-8 rune in half.
func splitDelta(d string) string {
	if len(d) <= wire.StreamDeltaMax {
		return d
	}
	n := wire.StreamDeltaMax
	for n > 0 && !utf8.RuneStart(d[n]) {
		n--
	}
	if n == 0 {
		// Not valid UTF-8 anyway; pass it through unmodified
		n = wire.StreamDeltaMax
	}
	return d[:n]
}

// historyMessages snapshots the prior conversation for the model prompt.
func historyMessages(s *session.Session) []pipeline.Message {
	hist := s.History()
	out := make([]pipeline.Message, 0, len(hist))
	for _, m := range hist {
		out = append(out, pipeline.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func contextPct(u pipeline.Usage) int {
	if u.MaxTokens <= 0 {
		return 0
	}
	return u.CurrentTokens * 100 / u.MaxTokens
}

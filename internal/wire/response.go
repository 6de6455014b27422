// ABOUTME: Closed set of queued outbound responses, tagged with their target session.
// ABOUTME: Encode is the single place a response becomes a transport frame.

package wire

import "fmt"

// Response is one queued outbound message. The set of implementations in
// this file is closed; Encode switches over all of them. Entries are
// immutable once constructed and consumed exactly once.
type Response interface {
	TargetSession() uint32
	response()
}

type target struct {
	Session uint32
}

func (t target) TargetSession() uint32 { return t.Session }
func (target) response()               {}

// State announces a session state transition (idle, listening, thinking,
// speaking) with an optional human-readable detail.
type State struct {
	target
	State  string
	Detail string
}

// NewState builds a State response for a session.
func NewState(session uint32, state, detail string) State {
	return State{target{session}, state, detail}
}

// Transcript carries one finished transcript line (user echo or assistant).
type Transcript struct {
	target
	Role string
	Text string
}

// NewTranscript builds a Transcript response.
func NewTranscript(session uint32, role, text string) Transcript {
	return Transcript{target{session}, role, text}
}

// Error carries a client-visible error with a branchable code.
type Error struct {
	target
	Code        string
	Message     string
	Recoverable bool
}

// NewError builds an Error response.
func NewError(session uint32, code, message string, recoverable bool) Error {
	return Error{target{session}, code, message, recoverable}
}

// SessionToken delivers the resumption token for the attached session.
type SessionToken struct {
	target
	Token string
}

// NewSessionToken builds a SessionToken response.
func NewSessionToken(session uint32, token string) SessionToken {
	return SessionToken{target{session}, token}
}

// AudioChunk carries synthesized audio bytes (sent as a binary frame).
type AudioChunk struct {
	target
	Data []byte
}

// NewAudioChunk builds an AudioChunk response. The slice is owned by the
// queue entry after this call.
func NewAudioChunk(session uint32, data []byte) AudioChunk {
	return AudioChunk{target{session}, data}
}

// AudioEnd marks the end of an audio segment (binary frame, no payload).
type AudioEnd struct {
	target
}

// NewAudioEnd builds an AudioEnd response.
func NewAudioEnd(session uint32) AudioEnd {
	return AudioEnd{target{session}}
}

// ContextUsage reports LLM context window consumption.
type ContextUsage struct {
	target
	Current   int
	Max       int
	Threshold float64
}

// NewContextUsage builds a ContextUsage response.
func NewContextUsage(session uint32, current, max int, threshold float64) ContextUsage {
	return ContextUsage{target{session}, current, max, threshold}
}

// StreamStart opens an incremental text stream.
type StreamStart struct {
	target
	StreamID uint32
}

// NewStreamStart builds a StreamStart response.
func NewStreamStart(session uint32, streamID uint32) StreamStart {
	return StreamStart{target{session}, streamID}
}

// StreamDelta carries one incremental text chunk for a stream. Text is
// already truncated to StreamDeltaMax at construction.
type StreamDelta struct {
	target
	StreamID uint32
	Text     string
}

// NewStreamDelta builds a StreamDelta response, truncating text to the
// on-wire field size.
func NewStreamDelta(session uint32, streamID uint32, text string) StreamDelta {
	if len(text) > StreamDeltaMax {
		text = text[:StreamDeltaMax]
	}
	return StreamDelta{target{session}, streamID, text}
}

// StreamEnd closes an incremental text stream with a reason
// ("complete", "error", "cancelled").
type StreamEnd struct {
	target
	StreamID uint32
	Reason   string
}

// NewStreamEnd builds a StreamEnd response.
func NewStreamEnd(session uint32, streamID uint32, reason string) StreamEnd {
	return StreamEnd{target{session}, streamID, reason}
}

// MetricsUpdate reports pipeline latency/throughput after a request.
type MetricsUpdate struct {
	target
	State      string
	TTFTMs     int
	TokenRate  float64
	ContextPct int
}

// NewMetricsUpdate builds a MetricsUpdate response.
func NewMetricsUpdate(session uint32, state string, ttftMs int, tokenRate float64, contextPct int) MetricsUpdate {
	return MetricsUpdate{target{session}, state, ttftMs, tokenRate, contextPct}
}

// ConfigSnapshot is the config message sent on attach.
type ConfigSnapshot struct {
	target
	Provider   string
	Model      string
	Codec      string
	MaxClients int
	TTSEnabled bool
}

// NewConfigSnapshot builds a ConfigSnapshot response.
func NewConfigSnapshot(session uint32, provider, model, codec string, maxClients int, tts bool) ConfigSnapshot {
	return ConfigSnapshot{target{session}, provider, model, codec, maxClients, tts}
}

// History is the stored transcript returned for get_history.
type History struct {
	target
	Entries []HistoryEntry
}

// HistoryEntry is one transcript line in a History response.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// NewHistory builds a History response.
func NewHistory(session uint32, entries []HistoryEntry) History {
	return History{target{session}, entries}
}

// Encode turns a queued response into exactly one transport frame.
func Encode(r Response) (Frame, error) {
	switch v := r.(type) {
	case State:
		p := map[string]any{"state": v.State}
		if v.Detail != "" {
			p["detail"] = v.Detail
		}
		return TextFrame("state", p)
	case Transcript:
		return TextFrame("transcript", map[string]any{"role": v.Role, "text": v.Text})
	case Error:
		return TextFrame("error", map[string]any{
			"code":        v.Code,
			"message":     v.Message,
			"recoverable": v.Recoverable,
		})
	case SessionToken:
		return TextFrame("session", map[string]any{"token": v.Token})
	case AudioChunk:
		return BinaryFrame(BinAudioOut, v.Data), nil
	case AudioEnd:
		return BinaryFrame(BinAudioSegmentEnd, nil), nil
	case ContextUsage:
		usage := 0.0
		if v.Max > 0 {
			usage = float64(v.Current) / float64(v.Max)
		}
		return TextFrame("context", map[string]any{
			"current":   v.Current,
			"max":       v.Max,
			"usage":     usage,
			"threshold": v.Threshold,
		})
	case StreamStart:
		return TextFrame("stream_start", map[string]any{"stream_id": v.StreamID})
	case StreamDelta:
		return TextFrame("stream_delta", map[string]any{"stream_id": v.StreamID, "delta": v.Text})
	case StreamEnd:
		return TextFrame("stream_end", map[string]any{"stream_id": v.StreamID, "reason": v.Reason})
	case MetricsUpdate:
		return TextFrame("metrics_update", map[string]any{
			"state":           v.State,
			"ttft_ms":         v.TTFTMs,
			"token_rate":      v.TokenRate,
			"context_percent": v.ContextPct,
		})
	case ConfigSnapshot:
		return TextFrame("config", map[string]any{
			"provider":    v.Provider,
			"model":       v.Model,
			"audio_codec": v.Codec,
			"max_clients": v.MaxClients,
			"tts_enabled": v.TTSEnabled,
		})
	case History:
		entries := v.Entries
		if entries == nil {
			entries = []HistoryEntry{}
		}
		return TextFrame("history", map[string]any{"entries": entries})
	default:
		return Frame{}, fmt.Errorf("unknown response type %T", r)
	}
}

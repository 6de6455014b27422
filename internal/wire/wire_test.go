// ABOUTME: Tests for envelope parsing and response frame encoding.
// ABOUTME: Validates JSON shapes, binary type bytes, and delta truncation.

package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"text","payload":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, "text", env.Type)

	var p TextPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "hi", p.Text)
}

func TestParseEnvelope_Invalid(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestCapabilities_SupportsOpus(t *testing.T) {
	assert.True(t, Capabilities{AudioCodecs: []string{"pcm", "opus"}}.SupportsOpus())
	assert.False(t, Capabilities{AudioCodecs: []string{"pcm"}}.SupportsOpus())
	assert.False(t, Capabilities{}.SupportsOpus())
}

// decode unwraps a text frame back into type + payload for assertions.
func decode(t *testing.T, f Frame) (string, map[string]any) {
	t.Helper()
	require.False(t, f.Binary)

	var env Envelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return env.Type, payload
}

func TestEncode_State(t *testing.T) {
	f, err := Encode(NewState(7, "thinking", "Processing request..."))
	require.NoError(t, err)

	typ, p := decode(t, f)
	assert.Equal(t, "state", typ)
	assert.Equal(t, "thinking", p["state"])
	assert.Equal(t, "Processing request...", p["detail"])
}

func TestEncode_StateOmitsEmptyDetail(t *testing.T) {
	f, err := Encode(NewState(7, "idle", ""))
	require.NoError(t, err)

	_, p := decode(t, f)
	assert.NotContains(t, p, "detail")
}

func TestEncode_Error(t *testing.T) {
	f, err := Encode(NewError(1, "MAX_CLIENTS", "too many clients", false))
	require.NoError(t, err)

	typ, p := decode(t, f)
	assert.Equal(t, "error", typ)
	assert.Equal(t, "MAX_CLIENTS", p["code"])
	assert.Equal(t, false, p["recoverable"])
}

func TestEncode_SessionToken(t *testing.T) {
	f, err := Encode(NewSessionToken(1, "deadbeef"))
	require.NoError(t, err)

	typ, p := decode(t, f)
	assert.Equal(t, "session", typ)
	assert.Equal(t, "deadbeef", p["token"])
}

func TestEncode_StreamDeltaTruncation(t *testing.T) {
	long := strings.Repeat("x", StreamDeltaMax*2)
	d := NewStreamDelta(3, 1, long)
	assert.Len(t, d.Text, StreamDeltaMax)

	f, err := Encode(d)
	require.NoError(t, err)
	typ, p := decode(t, f)
	assert.Equal(t, "stream_delta", typ)
	assert.Equal(t, float64(1), p["stream_id"])
	assert.Len(t, p["delta"], StreamDeltaMax)
}

func TestEncode_ContextUsage(t *testing.T) {
	f, err := Encode(NewContextUsage(2, 500, 1000, 0.8))
	require.NoError(t, err)

	typ, p := decode(t, f)
	assert.Equal(t, "context", typ)
	assert.Equal(t, float64(500), p["current"])
	assert.Equal(t, 0.5, p["usage"])
}

func TestEncode_AudioFrames(t *testing.T) {
	f, err := Encode(NewAudioChunk(1, []byte{0xAA, 0xBB}))
	require.NoError(t, err)
	assert.True(t, f.Binary)
	assert.Equal(t, []byte{BinAudioOut, 0xAA, 0xBB}, f.Data)

	f, err = Encode(NewAudioEnd(1))
	require.NoError(t, err)
	assert.True(t, f.Binary)
	assert.Equal(t, []byte{BinAudioSegmentEnd}, f.Data)
}

func TestEncode_MetricsUpdate(t *testing.T) {
	f, err := Encode(NewMetricsUpdate(4, "idle", 230, 41.5, 12))
	require.NoError(t, err)

	typ, p := decode(t, f)
	assert.Equal(t, "metrics_update", typ)
	assert.Equal(t, float64(230), p["ttft_ms"])
	assert.Equal(t, 41.5, p["token_rate"])
	assert.Equal(t, float64(12), p["context_percent"])
}

func TestEncode_HistoryNeverNull(t *testing.T) {
	f, err := Encode(NewHistory(1, nil))
	require.NoError(t, err)

	_, p := decode(t, f)
	entries, ok := p["entries"].([]any)
	require.True(t, ok)
	assert.Empty(t, entries)
}

func TestBinaryFrame(t *testing.T) {
	f := BinaryFrame(BinAudioIn, []byte{1, 2, 3})
	assert.True(t, f.Binary)
	assert.Equal(t, []byte{BinAudioIn, 1, 2, 3}, f.Data)
}

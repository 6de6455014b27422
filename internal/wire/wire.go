// ABOUTME: Wire protocol types for the browser websocket channel.
// ABOUTME: JSON envelopes for text frames, type-prefixed binary frames for audio.

package wire

import (
	"encoding/json"
	"fmt"
)

// Binary frame type bytes. Byte 0 of every binary message identifies the
// payload; the remaining bytes are opaque audio data. The 0x2x range is
// reserved for the media-streaming feature and is not handled here.
const (
	BinAudioIn         byte = 0x01 // client -> server: audio chunk
	BinAudioInEnd      byte = 0x02 // client -> server: end of utterance
	BinAudioOut        byte = 0x11 // server -> client: synthesized audio chunk
	BinAudioSegmentEnd byte = 0x12 // server -> client: play accumulated segment
)

// StreamDeltaMax is the on-wire size limit for a single stream delta.
// Longer text is truncated at enqueue time.
const StreamDeltaMax = 128

// Inbound control message types.
const (
	TypeInit               = "init"
	TypeReconnect          = "reconnect"
	TypeText               = "text"
	TypeCancel             = "cancel"
	TypeCapabilitiesUpdate = "capabilities_update"
	TypeGetHistory         = "get_history"
)

// Channel states reported to clients.
const (
	StateIdle      = "idle"
	StateListening = "listening"
	StateThinking  = "thinking"
	StateSpeaking  = "speaking"
)

// Error codes carried by error messages.
const (
	ErrCodeMaxClients  = "MAX_CLIENTS"
	ErrCodeASRFailed   = "ASR_FAILED"
	ErrCodeLLMError    = "LLM_ERROR"
	ErrCodeBufferFull  = "BUFFER_FULL"
	ErrCodeBufferError = "BUFFER_ERROR"
	ErrCodeProcessing  = "PROCESSING_ERROR"
)

// Envelope is the JSON shape of every text frame in both directions:
// {"type": string, "payload": object}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Capabilities is the client capability declaration carried by init,
// reconnect, and capabilities_update payloads.
type Capabilities struct {
	AudioCodecs []string `json:"audio_codecs,omitempty"`
}

// SupportsOpus reports whether the client declared the opus codec.
func (c Capabilities) SupportsOpus() bool {
	for _, codec := range c.AudioCodecs {
		if codec == "opus" {
			return true
		}
	}
	return false
}

// InitPayload is the payload of init and reconnect messages.
type InitPayload struct {
	Token        string       `json:"token,omitempty"`
	Capabilities Capabilities `json:"capabilities,omitempty"`
}

// TextPayload is the payload of a text message. Images are optional
// base64 data URLs passed through to the pipeline.
type TextPayload struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// CapabilitiesPayload is the payload of capabilities_update.
type CapabilitiesPayload struct {
	Capabilities Capabilities `json:"capabilities"`
}

// ParseEnvelope decodes a text frame into an Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// Frame is one encoded transport write: either a text (JSON) frame or a
// binary frame with its type byte already prepended.
type Frame struct {
	Binary bool
	Data   []byte
}

// TextFrame marshals a type+payload pair into a JSON text frame.
func TextFrame(msgType string, payload any) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshaling %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: body})
	if err != nil {
		return Frame{}, fmt.Errorf("marshaling %s envelope: %w", msgType, err)
	}
	return Frame{Data: data}, nil
}

// BinaryFrame builds a binary frame from a type byte and payload.
func BinaryFrame(msgType byte, payload []byte) Frame {
	data := make([]byte, 1+len(payload))
	data[0] = msgType
	copy(data[1:], payload)
	return Frame{Binary: true, Data: data}
}

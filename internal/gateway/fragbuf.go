// ABOUTME: Growable audio capture buffer with a hard ceiling
// ABOUTME: Accumulates utterance chunks between start and end-of-utterance marks

package gateway

import "errors"

// ErrBufferFull is returned when accepting a chunk would require growing
// the buffer past its ceiling. The buffered audio is left unchanged so the
// client can end the utterance and still get a response.
var ErrBufferFull = errors.New("audio buffer full")

// fragBuffer accumulates one utterance of audio. Capacity grows by
// doubling from the initial size up to max. Not safe for concurrent use;
// each connection owns exactly one.
type fragBuffer struct {
	buf     []byte
	initial int
	max     int
}

func newFragBuffer(initial, max int) *fragBuffer {
	return &fragBuffer{
		buf:     make([]byte, 0, initial),
		initial: initial,
		max:     max,
	}
}

// Append adds a chunk, growing capacity as needed. When growth would
// exceed the ceiling the chunk is rejected and the buffer is unchanged.
func (b *fragBuffer) Append(p []byte) error {
	need := len(b.buf) + len(p)
	if need > cap(b.buf) {
		newCap := cap(b.buf)
		if newCap == 0 {
			newCap = b.initial
		}
		for newCap < need {
			newCap *= 2
		}
		if newCap > b.max {
			return ErrBufferFull
		}
		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf = append(b.buf, p...)
	return nil
}

// Len reports the buffered byte count.
func (b *fragBuffer) Len() int {
	return len(b.buf)
}

// Take returns the accumulated audio and resets the buffer to its initial
// capacity for the next utterance.
func (b *fragBuffer) Take() []byte {
	out := b.buf
	b.buf = make([]byte, 0, b.initial)
	return out
}

// ABOUTME: Tests for worker delta chunking
// ABOUTME: Covers UTF-8 safe splitting of long stream deltas

package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lantern-ai/lantern-gateway/internal/wire"
)

func TestSplitDelta_ShortPassesThrough(t *testing.T) {
	assert.Equal(t, "hello", splitDelta("hello"))
	assert.Equal(t, "", splitDelta(""))
}

func TestSplitDelta_ExactLimit(t *testing.T) {
	d := strings.Repeat("a", wire.StreamDeltaMax)
	assert.Equal(t, d, splitDelta(d))
}

func TestSplitDelta_BacksOffToRuneBoundary(t *testing.T) {
	// One ASCII byte shifts every 2-byte rune off the split point
	d := "a" + strings.Repeat("é", wire.StreamDeltaMax/2)

	var pieces []string
	for rest := d; rest != ""; {
		p := splitDelta(rest)
		pieces = append(pieces, p)
		rest = rest[len(p):]
	}

	require.Len(t, pieces, 2)
	assert.Len(t, pieces[0], wire.StreamDeltaMax-1)
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p))
	}
	assert.Equal(t, d, strings.Join(pieces, ""))
}

func TestSplitDelta_FourByteRunes(t *testing.T) {
	d := "ab" + strings.Repeat("\U0001F642", 40)

	var pieces []string
	for rest := d; rest != ""; {
		p := splitDelta(rest)
		pieces = append(pieces, p)
		rest = rest[len(p):]
	}

	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p))
		assert.LessOrEqual(t, len(p), wire.StreamDeltaMax)
	}
	assert.Equal(t, d, strings.Join(pieces, ""))
}

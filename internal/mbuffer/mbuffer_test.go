package mbuffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tuplestream/collector/internal/mbuffer"
)

func TestWriteAndLength(t *testing.T) {
	b := mbuffer.New(4)
	n, err := b.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, b.Length())
	assert.Equal(t, []byte("hello"), b.Unread())
}

func TestMarkFlushedAdvancesFillAndUnread(t *testing.T) {
	b := mbuffer.New(16)
	b.Write([]byte("hello world"))
	b.MarkFlushed(6)
	assert.Equal(t, 6, b.Fill())
	assert.Equal(t, "world", string(b.Unread()))
	assert.Equal(t, 5, b.Length())
}

func TestGrowDoesNotTruncateExisting(t *testing.T) {
	b := mbuffer.New(2)
	b.Write([]byte("a"))
	b.Write([]byte("bcdefgh"))
	assert.Equal(t, "abcdefgh", string(b.Unread()))
}

func TestChainOrdersPriorFirst(t *testing.T) {
	meta := mbuffer.New(8)
	meta.Write([]byte("META"))
	data := mbuffer.New(8)
	data.Write([]byte("DATA"))
	data.Chain(meta)

	segs := data.Segments()
	if assert.Len(t, segs, 2) {
		assert.Equal(t, "META", string(segs[0]))
		assert.Equal(t, "DATA", string(segs[1]))
	}
}

func TestResetClearsState(t *testing.T) {
	b := mbuffer.New(8)
	b.Write([]byte("xyz"))
	b.MarkFlushed(3)
	b.Reset()
	assert.Equal(t, 0, b.Length())
	assert.Equal(t, 0, b.Fill())
	assert.Empty(t, b.Unread())
}

package boltwood

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFrames(t *testing.T) {
	assert := assert.New(t)

	t.Run("empty buffer", func(t *testing.T) {
		frames, rest := ExtractFrames(nil)
		assert.Empty(frames)
		assert.Empty(rest)
	})

	t.Run("no terminator keeps buffer intact", func(t *testing.T) {
		buf := []byte("\x02MD 0 3 1")
		frames, rest := ExtractFrames(buf)
		assert.Empty(frames)
		assert.Equal(buf, rest)
	})

	t.Run("single frame includes terminator", func(t *testing.T) {
		frames, rest := ExtractFrames([]byte("\x02P\n"))
		assert.Len(frames, 1)
		assert.Equal([]byte("\x02P\n"), frames[0])
		assert.Empty(rest)
	})

	t.Run("multiple frames with trailing partial", func(t *testing.T) {
		frames, rest := ExtractFrames([]byte("\x02P\n\x02A\n\x02MD 0"))
		assert.Len(frames, 2)
		assert.Equal([]byte("\x02P\n"), frames[0])
		assert.Equal([]byte("\x02A\n"), frames[1])
		assert.Equal([]byte("\x02MD 0"), rest)
	})

	t.Run("stray leading NUL stripped", func(t *testing.T) {
		frames, _ := ExtractFrames([]byte("\x00\x02P\n"))
		assert.Len(frames, 1)
		assert.Equal([]byte("\x02P\n"), frames[0])
	})

	t.Run("NUL stripped per frame after the first", func(t *testing.T) {
		frames, _ := ExtractFrames([]byte("\x02A\n\x00\x02P\n"))
		assert.Len(frames, 2)
		assert.Equal([]byte("\x02A\n"), frames[0])
		assert.Equal([]byte("\x02P\n"), frames[1])
	})

	t.Run("bare terminator is an empty frame", func(t *testing.T) {
		frames, rest := ExtractFrames([]byte("\n"))
		assert.Len(frames, 1)
		assert.Equal([]byte("\n"), frames[0])
		assert.Empty(rest)
	})
}

// Incremental feeding must produce exactly the same frames as one big read.
func TestExtractFramesIncremental(t *testing.T) {
	assert := assert.New(t)

	stream := []byte("\x02P\n\x00\x02MW 25.1 26.0 2 1.1 2.2 100 200XXXX\n\x02A\n")

	wholeFrames, wholeRest := ExtractFrames(stream)
	assert.Empty(wholeRest)

	for chunk := 1; chunk <= len(stream); chunk++ {
		var got [][]byte
		var buf []byte
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			buf = append(buf, stream[off:end]...)
			frames, rest := ExtractFrames(buf)
			got = append(got, frames...)
			buf = rest
		}
		assert.Empty(buf, "chunk size %d", chunk)
		assert.Equal(wholeFrames, got, "chunk size %d", chunk)
	}
}

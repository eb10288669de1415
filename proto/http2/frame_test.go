package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrameHeader(length uint32, typ, flags uint8, streamID uint32) []byte {
	b:= make([]byte, 9)
	b[0] = byte(length >> 16)
	b[1] = byte(length >> 8)
	b[2] = byte(length)
	b[3] = typ
	b[4] = flags
	b[5] = byte(streamID >> 24)
	b[6] = byte(streamID >> 16)
	b[7] = byte(streamID >> 8)
	b[8] = byte(streamID)
	return b
}

func TestSplitFramesSingle(t *testing.T) {
	payload:= []byte("hello")
	data:= append(buildFrameHeader(uint32(len(payload)), FrameData, FlagEndStream, 1), payload...)

	frames, remainder, err:= SplitFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Empty(t, remainder)
	assert.Equal(t, FrameData, frames[0].Header.Type)
	assert.Equal(t, uint32(1), frames[0].Header.StreamID)
	assert.Equal(t, "hello", string(frames[0].Payload))
}

func TestSplitFramesPartialTrailing(t *testing.T) {
	complete:= append(buildFrameHeader(2, FrameData, 0, 1), []byte("ab")...)
	partial:= buildFrameHeader(10, FrameData, 0, 1)[:5]
	data:= append(complete, partial...)

	frames, remainder, err:= SplitFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, partial, remainder)
}

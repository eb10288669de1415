package pipeline

import (
	"io"

	"github.com/corepcap/mobilecore/mempool"
	"github.com/corepcap/mobilecore/model"
)

// streamBufferChunkSize mirrors the HTTP body buffering granularity common
// to mempool-backed reassembly, closely enough to avoid excessive chunk
// churn for typical Diameter/HTTP2 message sizes.
const streamBufferChunkSize = 16 * 1024

// streamBufferPoolSize caps how much pending, not-yet-framed TCP payload one
// job holds across all its streams at once.
const streamBufferPoolSize = 64 * 1024 * 1024

// streamBuffers holds the pending-bytes accumulator for every TCP stream
// carrying a length-prefixed application protocol (Diameter, HTTP/2) that
// can span more than one reassembled segment. It is per-job state: never
// shared across workers.
type streamBuffers struct {
	pool mempool.BufferPool
	bufs map[model.FiveTuple]mempool.Buffer
}

func newStreamBuffers() *streamBuffers {
	pool, err:= mempool.MakeBufferPool(streamBufferPoolSize, streamBufferChunkSize)
	if err != nil {
		// Only returns an error for a non-positive chunk size or a pool
		// smaller than one chunk, which the constants above never produce.
		panic(err)
	}
	return &streamBuffers{pool: pool, bufs: make(map[model.FiveTuple]mempool.Buffer)}
}

// append adds data to tuple's pending buffer and returns every byte
// accumulated for it so far: bytes that must survive past the reassembly
// callback that delivered them.
func (s *streamBuffers) append(tuple model.FiveTuple, data []byte) []byte {
	buf:= s.bufs[tuple]
	if buf == nil {
		buf = s.pool.NewBuffer()
		s.bufs[tuple] = buf
	}
	_, _ = buf.Write(data)
	flat, err:= io.ReadAll(buf.Bytes().CreateReader())
	if err != nil {
		return nil
	}
	return flat
}

// setRemainder replaces tuple's pending buffer with exactly remainder,
// discarding whatever was already consumed into complete messages.
func (s *streamBuffers) setRemainder(tuple model.FiveTuple, remainder []byte) {
	buf:= s.bufs[tuple]
	if buf != nil {
		buf.Release()
	}
	if len(remainder) == 0 {
		delete(s.bufs, tuple)
		return
	}
	buf = s.pool.NewBuffer()
	_, _ = buf.Write(remainder)
	s.bufs[tuple] = buf
}

// drop releases and removes tuple's buffer, e.g. on stream close/reset.
func (s *streamBuffers) drop(tuple model.FiveTuple) {
	if buf:= s.bufs[tuple]; buf != nil {
		buf.Release()
	}
	delete(s.bufs, tuple)
}

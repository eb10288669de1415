package reassembly

import (
	"net/netip"
	"testing"
	"time"

	"github.com/corepcap/mobilecore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTuple() model.FiveTuple {
	return model.FiveTuple{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 1000, DstPort: 80, Protocol: model.ProtoTCP,
	}
}

func TestTCPInOrderDelivery(t *testing.T) {
	r:= NewTCPReassembler(0)
	tuple:= testTuple()
	now:= time.Now()

	out:= r.Process(tuple, TCPSegment{SYN: true, Seq: 100}, now)
	assert.Empty(t, out)

	out = r.Process(tuple, TCPSegment{Seq: 101, Payload: []byte("hello")}, now)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", string(out[0]))
}

func TestTCPOutOfOrderThenDrain(t *testing.T) {
	r:= NewTCPReassembler(0)
	tuple:= testTuple()
	now:= time.Now()

	r.Process(tuple, TCPSegment{SYN: true, Seq: 100}, now)

	// Future segment arrives first (seq 106, 5 bytes ahead of expected 101).
	out:= r.Process(tuple, TCPSegment{Seq: 106, Payload: []byte("world")}, now)
	assert.Empty(t, out)

	// In-order segment arrives and should drain the buffered one too.
	out = r.Process(tuple, TCPSegment{Seq: 101, Payload: []byte("hello")}, now)
	require.Len(t, out, 2)
	assert.Equal(t, "hello", string(out[0]))
	assert.Equal(t, "world", string(out[1]))
}

func TestTCPMidStreamPickup(t *testing.T) {
	r:= NewTCPReassembler(0)
	tuple:= testTuple()
	now:= time.Now()

	// No SYN seen; first observed seq becomes next_seq.
	out:= r.Process(tuple, TCPSegment{Seq: 500, Payload: []byte("partial")}, now)
	require.Len(t, out, 1)
	assert.Equal(t, "partial", string(out[0]))
}

func TestTCPOutOfOrderCapEnforced(t *testing.T) {
	r:= NewTCPReassembler(0)
	tuple:= testTuple()
	now:= time.Now()
	r.Process(tuple, TCPSegment{SYN: true, Seq: 0}, now)

	for i:= 0; i < maxOutOfOrderSegments+10; i++ {
		seq:= uint32(2 + i*10)
		r.Process(tuple, TCPSegment{Seq: seq, Payload: make([]byte, 1)}, now)
	}

	s:= r.streams[tuple]
	assert.LessOrEqual(t, len(s.outOfOrder), maxOutOfOrderSegments)
}

func TestTCPDuplicateDropped(t *testing.T) {
	r:= NewTCPReassembler(0)
	tuple:= testTuple()
	now:= time.Now()

	r.Process(tuple, TCPSegment{SYN: true, Seq: 0}, now)
	r.Process(tuple, TCPSegment{Seq: 1, Payload: []byte("abc")}, now)
	out:= r.Process(tuple, TCPSegment{Seq: 1, Payload: []byte("abc")}, now)
	assert.Empty(t, out, "a duplicate/past segment must be dropped")
}

func TestSeqLessWraparound(t *testing.T) {
	assert.True(t, seqLess(0xFFFFFFF0, 0x10))
	assert.False(t, seqLess(0x10, 0xFFFFFFF0))
}

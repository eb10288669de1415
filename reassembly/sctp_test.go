package reassembly

import (
	"testing"
	"time"

	"github.com/corepcap/mobilecore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSCTPSingleChunkMessage(t *testing.T) {
	r:= NewSCTPReassembler(0)
	now:= time.Now()

	msg, ok:= r.Process(testTuple(), 0xAABBCCDD, SCTPDataChunk{
		StreamID: 1, StreamSeq: 1, PPID: PPIDS1AP, Begin: true, End: true, Payload: []byte("hi"),
	}, now)
	require.True(t, ok)
	assert.Equal(t, "hi", string(msg.Payload))
	proto, known:= ProtocolForPPID(msg.PPID)
	require.True(t, known)
	assert.Equal(t, model.AppS1AP, proto)
}

func TestSCTPMultiFragmentMessage(t *testing.T) {
	r:= NewSCTPReassembler(0)
	now:= time.Now()
	tuple:= testTuple()

	_, ok:= r.Process(tuple, 1, SCTPDataChunk{StreamID: 2, StreamSeq: 5, PPID: PPIDDiameter, Begin: true, Payload: []byte("AB")}, now)
	assert.False(t, ok)

	_, ok = r.Process(tuple, 1, SCTPDataChunk{StreamID: 2, StreamSeq: 5, PPID: PPIDDiameter, Payload: []byte("CD")}, now)
	assert.False(t, ok)

	msg, ok:= r.Process(tuple, 1, SCTPDataChunk{StreamID: 2, StreamSeq: 5, PPID: PPIDDiameter, End: true, Payload: []byte("EF")}, now)
	require.True(t, ok)
	assert.Equal(t, "ABCDEF", string(msg.Payload))
}

func TestSCTPUnknownPPID(t *testing.T) {
	_, known:= ProtocolForPPID(9999)
	assert.False(t, known)
}

func TestSCTPSweep(t *testing.T) {
	r:= NewSCTPReassembler(300 * time.Second)
	now:= time.Now()
	r.Process(testTuple(), 1, SCTPDataChunk{StreamID: 1, StreamSeq: 1, Begin: true, Payload: []byte("a")}, now)
	assert.Equal(t, 1, r.AssocCount())
	removed:= r.Sweep(now.Add(301 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, r.AssocCount())
}

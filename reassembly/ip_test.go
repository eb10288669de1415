package reassembly

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIPv4(id uint16, flagsFragOffset uint16, protocol byte, payload []byte) []byte {
	hdr:= make([]byte, 20)
	hdr[0] = 0x45
	binary.BigEndian.PutUint16(hdr[2:4], uint16(20+len(payload)))
	binary.BigEndian.PutUint16(hdr[4:6], id)
	binary.BigEndian.PutUint16(hdr[6:8], flagsFragOffset)
	hdr[9] = protocol
	copy(hdr[12:16], net.ParseIP("10.0.0.1").To4())
	copy(hdr[16:20], net.ParseIP("10.0.0.2").To4())
	return append(hdr, payload...)
}

func TestIPv4PassThroughNonFragment(t *testing.T) {
	r:= NewIPReassembler(0)
	pkt:= buildIPv4(1, 0, 6, []byte("hello"))
	dg, ok, err:= r.ProcessIPv4(pkt, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), dg.Payload)
	assert.Equal(t, 0, r.PendingCount())
}

func TestIPv4ReassemblyTwoFragments(t *testing.T) {
	r:= NewIPReassembler(0)
	now:= time.Now()

	first:= buildIPv4(42, 0x2000, 6, []byte("AAAAAAAA")) // MF=1, offset=0
	_, ok, err:= r.ProcessIPv4(first, now)
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, 1, r.PendingCount())

	last:= buildIPv4(42, 1, 6, []byte("BBBB")) // MF=0, offset=1*8=8
	dg, ok, err:= r.ProcessIPv4(last, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAAAAAAABBBB", string(dg.Payload))
	assert.Equal(t, 0, r.PendingCount(), "key must be erased once the datagram completes")
}

func TestIPv4SweepExpires(t *testing.T) {
	r:= NewIPReassembler(30 * time.Second)
	now:= time.Now()
	first:= buildIPv4(7, 0x2000, 6, []byte("X"))
	_, _, err:= r.ProcessIPv4(first, now)
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingCount())

	removed:= r.Sweep(now.Add(31 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, r.PendingCount())
}

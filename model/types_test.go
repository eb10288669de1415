package model

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowTouchMonotonic(t *testing.T) {
	start:= time.Now()
	f:= NewFlow(FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), SrcPort: 1, DstPort: 2, Protocol: ProtoUDP}, start)
	require.Equal(t, start, f.FirstSeen)
	require.Equal(t, start, f.LastSeen)

	f.Touch(start.Add(time.Second), 100)
	assert.True(t, f.LastSeen.After(start) || f.LastSeen.Equal(start.Add(time.Second)))
	assert.Equal(t, uint64(1), f.Packets)
	assert.Equal(t, uint64(100), f.Bytes)

	// An out-of-order touch (older timestamp) must not move LastSeen backward.
	last:= f.LastSeen
	f.Touch(start, 50)
	assert.Equal(t, last, f.LastSeen)
	assert.Equal(t, uint64(2), f.Packets)
}

func TestFlowExpired(t *testing.T) {
	now:= time.Now()
	f:= NewFlow(FiveTuple{}, now.Add(-10*time.Minute))
	assert.True(t, f.Expired(now, 5*time.Minute))
	assert.False(t, f.Expired(now, time.Hour))
}

func TestCorrelationKeyMerge(t *testing.T) {
	a:= CorrelationKey{IMSI: "001010000000001", TEIDUser: 0x11}
	b:= CorrelationKey{MSISDN: "15551230000", TEIDUser: 0x22}

	merged:= a.Merge(b)
	assert.Equal(t, "001010000000001", merged.IMSI)
	assert.Equal(t, "15551230000", merged.MSISDN)
	// a's non-zero TEIDUser wins over b's.
	assert.Equal(t, uint32(0x11), merged.TEIDUser)
}

func TestCorrelationKeyIsZero(t *testing.T) {
	assert.True(t, CorrelationKey{}.IsZero())
	assert.False(t, CorrelationKey{IMSI: "x"}.IsZero())
}

func TestFiveTupleReverse(t *testing.T) {
	tup:= FiveTuple{
		SrcIP: netip.MustParseAddr("192.0.2.1"), DstIP: netip.MustParseAddr("192.0.2.2"),
		SrcPort: 100, DstPort: 200, Protocol: ProtoTCP,
	}
	rev:= tup.Reverse()
	assert.Equal(t, tup.SrcIP, rev.DstIP)
	assert.Equal(t, tup.DstPort, rev.SrcPort)
}

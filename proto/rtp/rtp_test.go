package rtp

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRTP(seq uint16, ts uint32, ssrc uint32, payload []byte) []byte {
	hdr:= make([]byte, 12)
	hdr[0] = 0x80 // version 2, no padding/extension/csrc
	hdr[1] = 0 // PT=0
	binary.BigEndian.PutUint16(hdr[2:4], seq)
	binary.BigEndian.PutUint32(hdr[4:8], ts)
	binary.BigEndian.PutUint32(hdr[8:12], ssrc)
	return append(hdr, payload...)
}

func TestProbeRTP(t *testing.T) {
	pkt:= buildRTP(1, 160, 0xDEADBEEF, []byte("audio"))
	assert.True(t, ProbeRTP(pkt))
}

func TestParseRTP(t *testing.T) {
	pkt:= buildRTP(5, 8000, 0x1234, []byte("payload"))
	p, err:= ParseRTP(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), p.SequenceNumber)
	assert.Equal(t, uint32(8000), p.Timestamp)
	assert.Equal(t, uint32(0x1234), p.SSRC)
	assert.Equal(t, "payload", string(p.Payload))
}

func TestTrackerLossAndJitter(t *testing.T) {
	tr:= NewTracker()
	base:= time.Now()

	p1, _:= ParseRTP(buildRTP(1, 0, 0xAAAA, nil))
	tr.Observe(p1, base)

	// Skip seq 2 (simulating loss), deliver seq 3. Its timestamp (320 ticks,
	// 40ms at 8kHz) is two packets on, but it arrives after only 20ms, so the
	// transit-time difference is non-zero and jitter rises above 0.
	p3, _:= ParseRTP(buildRTP(3, 320, 0xAAAA, nil))
	stats:= tr.Observe(p3, base.Add(20*time.Millisecond))

	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(3), stats.PacketsExpected())
	assert.InDelta(t, 1.0/3.0, stats.LossFraction(), 0.01)
	assert.Greater(t, stats.Jitter, 0.0)
}

func TestGetUnknownSSRC(t *testing.T) {
	tr:= NewTracker()
	_, ok:= tr.Get(0xFFFF)
	assert.False(t, ok)
}

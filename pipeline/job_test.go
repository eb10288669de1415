package pipeline

import (
	"net/netip"
	"testing"
	"time"

	"github.com/corepcap/mobilecore/capture"
	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(cfg Config) *Job {
	return newJob(gid.GenerateJobID(), cfg, "", "", nil, nil, nil)
}

func TestIPToAddrNormalizesV4InV6(t *testing.T) {
	mapped:= netip.MustParseAddr("::ffff:192.0.2.1")
	addr:= ipToAddr(mapped.AsSlice())
	assert.True(t, addr.Is4())
	assert.Equal(t, "192.0.2.1", addr.String())
}

func TestBidiKeyIsDirectionIndependent(t *testing.T) {
	fwd:= model.FiveTuple{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 1000, DstPort: 80, Protocol: model.ProtoTCP,
	}
	assert.Equal(t, bidiKey(fwd), bidiKey(fwd.Reverse()))
}

func TestStreamKeyScopesToConnection(t *testing.T) {
	a:= model.FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), SrcPort: 1, DstPort: 2, Protocol: model.ProtoTCP}
	b:= model.FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.3"), DstIP: netip.MustParseAddr("10.0.0.4"), SrcPort: 1, DstPort: 2, Protocol: model.ProtoTCP}
	assert.NotEqual(t, streamKey(a, 1), streamKey(b, 1))
	assert.NotEqual(t, streamKey(a, 1), streamKey(a, 3))
}

func TestLooksLikeRTCP(t *testing.T) {
	// An RTCP sender report: V=2, PT=200 (SR).
	rtcp:= []byte{0x80, 200, 0x00, 0x06, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.True(t, looksLikeRTCP(rtcp))

	// A plausible RTP packet: V=2, PT=0 (PCMU), not RTCP.
	rtp:= []byte{0x80, 0x00, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0}
	assert.False(t, looksLikeRTCP(rtp))
}

func TestTouchFlowRespectsMaxFlows(t *testing.T) {
	cfg:= DefaultConfig()
	cfg.MaxFlows = 1
	j:= newTestJob(cfg)

	a:= model.FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), SrcPort: 1, DstPort: 2, Protocol: model.ProtoUDP}
	b:= model.FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.3"), DstIP: netip.MustParseAddr("10.0.0.4"), SrcPort: 1, DstPort: 2, Protocol: model.ProtoUDP}

	now:= time.Now()
	f1:= j.touchFlow(a, now, 10)
	require.NotNil(t, f1)
	f2:= j.touchFlow(b, now, 10)
	assert.Nil(t, f2, "a second distinct tuple must be rejected once MaxFlows is reached")

	// Re-touching the already-admitted tuple must still succeed.
	f1again:= j.touchFlow(a, now.Add(time.Second), 5)
	require.NotNil(t, f1again)
	assert.Equal(t, uint64(2), f1again.Packets)
}

func TestResolveInterfaceKindUncachedWhenUnknown(t *testing.T) {
	j:= newTestJob(DefaultConfig())
	source, err:= capture.Open(buildClassicPCAP(t))
	require.NoError(t, err)
	defer source.Close()
	frame, err:= source.Next()
	require.NoError(t, err)

	// The classic-format interface has no telecom-looking name and no
	// traffic has been observed yet, so it resolves to UNKNOWN.
	assert.Equal(t, model.InterfaceUnknown, j.resolveInterfaceKind(source, frame))
	_, ok:= j.ifaceKinds[frame.InterfaceID]
	assert.False(t, ok, "an UNKNOWN classification is never cached")
}

func TestHTTP2ConnForTracksClientDirection(t *testing.T) {
	j:= newTestJob(DefaultConfig())
	client:= model.FiveTuple{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), SrcPort: 5000, DstPort: 443, Protocol: model.ProtoTCP}
	server:= client.Reverse()

	st:= j.http2ConnFor(client, true)
	require.NotNil(t, st)
	assert.Equal(t, client, st.clientTuple)

	// The reverse-direction leg must resolve to the same connection state
	// without overwriting which tuple is the client.
	st2:= j.http2ConnFor(server, false)
	assert.Same(t, st, st2)
	assert.Equal(t, client, st2.clientTuple)
}

func TestIsHTTP2Candidate(t *testing.T) {
	assert.True(t, isHTTP2Candidate(model.InterfaceSGi, 12345, 54321))
	assert.True(t, isHTTP2Candidate(model.InterfaceUnknown, 443, 9000))
	assert.False(t, isHTTP2Candidate(model.InterfaceUnknown, 12345, 54321))
}

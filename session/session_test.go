package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/diameter"
	"github.com/corepcap/mobilecore/proto/gtpv2"
	"github.com/corepcap/mobilecore/proto/ran"
	"github.com/corepcap/mobilecore/proto/sba"
	"github.com/corepcap/mobilecore/proto/sip"
	"github.com/corepcap/mobilecore/tunnel"
)

func ref(at time.Time, frame uint64) model.SessionMessageRef {
	return model.SessionMessageRef{Timestamp: at, FrameNumber: frame}
}

func TestSIPCallLifecycleAdvancesState(t *testing.T) {
	c:= NewCorrelator()
	base:= time.Now()

	invite:= &sip.Message{IsRequest: true, Method: "INVITE", CallID: "call-1",
		PAssertedIdentity: []sip.Identity{{Username: "15551234567"}}}
	m:= c.UpsertSIP(invite, ref(base, 1), base)
	require.Len(t, m.SIPCallIDs, 1)

	ringing:= &sip.Message{IsRequest: false, StatusCode: 180, CallID: "call-1"}
	c.UpsertSIP(ringing, ref(base.Add(time.Second), 2), base.Add(time.Second))

	answer:= &sip.Message{IsRequest: false, StatusCode: 200, CSeqMethod: "INVITE", CallID: "call-1"}
	m = c.UpsertSIP(answer, ref(base.Add(3*time.Second), 3), base.Add(3*time.Second))

	require.Len(t, c.sipCalls, 1)
	for _, call:= range c.sipCalls {
		assert.Equal(t, SIPCallAnswered, call.State)
		assert.Equal(t, 3*time.Second, call.SetupTime)
		assert.Equal(t, "15551234567", call.MSISDN)
	}
	assert.Equal(t, "15551234567", m.Key.MSISDN)
}

func TestDiameterDialogTracksOutstandingRequests(t *testing.T) {
	c:= NewCorrelator()
	at:= time.Now()

	ccr:= &diameter.Message{SessionID: "sess-1", IsRequest: true,
		SubscriptionIDs: []diameter.SubscriptionID{{Type: 0, Data: "15557654321"}}}
	c.UpsertDiameter(ccr, ref(at, 1), at)

	cca:= &diameter.Message{SessionID: "sess-1", IsRequest: false}
	c.UpsertDiameter(cca, ref(at.Add(time.Second), 2), at.Add(time.Second))

	require.Len(t, c.diameterDialogs, 1)
	for _, dlg:= range c.diameterDialogs {
		assert.Equal(t, 0, dlg.OutstandingRequests)
		assert.Equal(t, "15557654321", dlg.MSISDN)
	}
}

func TestS1APUpsertReparsesNASForIMSI(t *testing.T) {
	c:= NewCorrelator()
	at:= time.Now()

	// Mobile Identity IE (tag 0x23): IMSI 001010000000001, odd digit count.
	idValue:= []byte{0x01 | 0x08, 0x10, 0x10, 0x00, 0x00, 0x00, 0x00, 0x10}
	nasPDU:= append([]byte{0x07, 0x00, 0x41, 0x23, byte(len(idValue))}, idValue...)

	msg:= &ran.S1APMessage{ENBUES1APID: 10, MMEUES1APID: 20, NASPDU: nasPDU}
	m:= c.UpsertS1AP(msg, ref(at, 1), at)

	assert.NotEmpty(t, m.Key.IMSI)
	assert.Len(t, m.UEContextIDs, 1)
}

func TestSBAInteractionExtractsSUPI(t *testing.T) {
	c:= NewCorrelator()
	at:= time.Now()

	interaction:= sba.Interaction{
		Service: "nudm-ueau", NFType: "UDM", API: "POST",
		ResourceTail: "v1/supi-001010000000001/security-information/generate-auth-data",
		Status: 200,
	}
	m:= c.UpsertSBA(interaction, "10.0.0.1:5000-10.0.0.2:443-1", ref(at, 1), at)

	assert.Equal(t, "001010000000001", m.Key.SUPI)
	assert.Len(t, m.SBAInteractionIDs, 1)
}

// TestCrossProtocolCorrelationMerges exercises a GTP tunnel, a SIP call and
// a Diameter dialog that shares the SIP call's MSISDN: the dialog folds into
// the call's master session, while the tunnel, which shares no identifier
// with either, keeps a master session of its own.
func TestCrossProtocolCorrelationMerges(t *testing.T) {
	c:= NewCorrelator()
	mgr:= tunnel.NewManager(tunnel.DefaultConfig())
	at:= time.Now()

	create:= &gtpv2.Message{MessageType: gtpv2.MsgCreateSessionRequest, TEID: 0x1000,
		IMSI: "001010000000001", APN: "internet",
		PAA: net.ParseIP("10.45.0.5")}
	_, err:= mgr.Handle(create, at, tunnel.CarryingNone)
	require.NoError(t, err)
	tun, ok:= mgr.Get(0x1000)
	require.True(t, ok)

	m1:= c.AttachTunnel(tun, ref(at, 1), at)
	assert.Equal(t, "001010000000001", m1.Key.IMSI)

	invite:= &sip.Message{IsRequest: true, Method: "INVITE", CallID: "call-xyz",
		PAssertedIdentity: []sip.Identity{{Username: "15559990000"}}}
	m2:= c.UpsertSIP(invite, ref(at.Add(time.Second), 2), at.Add(time.Second))
	assert.NotEqual(t, m1.ID, m2.ID)

	ccr:= &diameter.Message{SessionID: "diam-1", IsRequest: true,
		SubscriptionIDs: []diameter.SubscriptionID{{Type: 0, Data: "15559990000"}}}
	m3:= c.UpsertDiameter(ccr, ref(at.Add(2*time.Second), 3), at.Add(2*time.Second))

	// The Diameter dialog shares MSISDN with the SIP call, so they merge.
	assert.Equal(t, m2.ID, m3.ID)

	sessions:= c.Sessions()
	assert.Len(t, sessions, 2)
}

// TestHandoverAttachesBothTunnelsToSameMasterSession exercises the dispatch
// path's reaction to an X2/S1/N2 handover: the old tunnel and the new
// post-handover tunnel the manager spins off must both end up attached to
// the same master session, not just the one the inbound message's TEID
// resolves to.
func TestHandoverAttachesBothTunnelsToSameMasterSession(t *testing.T) {
	c:= NewCorrelator()
	mgr:= tunnel.NewManager(tunnel.DefaultConfig())
	base:= time.Now()

	create:= &gtpv2.Message{MessageType: gtpv2.MsgCreateSessionRequest, TEID: 0x11111111,
		IMSI: "001010000000001", APN: "internet"}
	_, err:= mgr.Handle(create, base, tunnel.CarryingNone)
	require.NoError(t, err)
	_, err = mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionResponse,
		TEID: 0x11111111,
		BearerContexts: []gtpv2.BearerContext{{FTEIDs: []gtpv2.FTEID{{TEID: 0x22222222}}}},
	}, base.Add(time.Millisecond), tunnel.CarryingNone)
	require.NoError(t, err)

	oldTun, ok:= mgr.Get(0x11111111)
	require.True(t, ok)
	m:= c.AttachTunnel(oldTun, ref(base, 1), base)

	hoAt:= base.Add(time.Minute)
	events, err:= mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgModifyBearerResponse,
		TEID: 0x11111111,
		BearerContexts: []gtpv2.BearerContext{{FTEIDs: []gtpv2.FTEID{{TEID: 0x33333333}}}},
	}, hoAt, tunnel.CarryingNone)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Mirrors dispatch.go's handling of the handover events returned
	// alongside the message: look up each event's new tunnel and attach it
	// too, so both legs land on the same master session.
	for _, event:= range events {
		newTun, ok:= mgr.Get(event.NewTEID)
		require.True(t, ok)
		m2:= c.AttachTunnel(newTun, ref(hoAt, 2), hoAt)
		assert.Equal(t, m.ID, m2.ID, "the post-handover tunnel must merge into the pre-handover master session")
	}

	sessions:= c.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].TunnelIDs.Contains(oldTun.ID))
	newTun, ok:= mgr.Get(0x33333333)
	require.True(t, ok)
	assert.True(t, sessions[0].TunnelIDs.Contains(newTun.ID))
}

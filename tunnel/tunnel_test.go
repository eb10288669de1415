package tunnel

import (
	"testing"
	"time"

	"github.com/corepcap/mobilecore/proto/gtpv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerSetupAndTeardownLifecycle(t *testing.T) {
	mgr:= NewManager(DefaultConfig())
	base:= time.Now()

	_, err:= mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionRequest,
		TEID: 0x11111111,
		IMSI: "001010000000001",
		APN: "internet",
	}, base, CarryingNone)
	require.NoError(t, err)

	tun, ok:= mgr.Get(0x11111111)
	require.True(t, ok)
	assert.Equal(t, StateCreating, tun.State)

	_, err = mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionResponse,
		TEID: 0x11111111,
		BearerContexts: []gtpv2.BearerContext{
			{EBI: 5, FTEIDs: []gtpv2.FTEID{{TEID: 0x22222222}}},
		},
	}, base.Add(10*time.Millisecond), CarryingNone)
	require.NoError(t, err)
	assert.Equal(t, StateActive, tun.State)
	assert.Equal(t, uint32(0x22222222), tun.DownlinkTEID)

	// 5 echo request/response pairs spaced 300s apart.
	echoTime:= base.Add(time.Minute)
	for i:= 0; i < 5; i++ {
		reqAt:= echoTime.Add(time.Duration(i) * 300 * time.Second)
		_, err:= mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoRequest, TEID: 0x11111111}, reqAt, CarryingNone)
		require.NoError(t, err)
		_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoResponse, TEID: 0x11111111}, reqAt.Add(5*time.Millisecond), CarryingNone)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, tun.EchoRequestCount)
	assert.Equal(t, 5, tun.EchoResponseCount)

	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgDeleteSessionRequest, TEID: 0x11111111}, base.Add(2*time.Hour), CarryingNone)
	require.NoError(t, err)
	assert.Equal(t, StateDeleting, tun.State)

	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgDeleteSessionResponse, TEID: 0x11111111}, base.Add(2*time.Hour+time.Second), CarryingNone)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, tun.State)
	assert.True(t, tun.IsDeleted())

	runs:= tun.AggregatedKeepalives()
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].EchoCount)
	assert.True(t, runs[0].AllSuccessful)
	assert.True(t, runs[0].StartTime.Before(runs[0].EndTime) || runs[0].StartTime.Equal(runs[0].EndTime))
}

func TestUnrespondedEchoIsFlaggedTimeoutNotAggregated(t *testing.T) {
	mgr:= NewManager(DefaultConfig())
	base:= time.Now()

	_, err:= mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionRequest,
		TEID: 0x11111111,
		IMSI: "001010000000001",
	}, base, CarryingNone)
	require.NoError(t, err)
	_, err = mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionResponse,
		TEID: 0x11111111,
	}, base.Add(time.Millisecond), CarryingNone)
	require.NoError(t, err)

	tun, ok:= mgr.Get(0x11111111)
	require.True(t, ok)

	// Three echoes 300s apart, all responded, establishing a 300s tracked
	// interval. A fourth request is then lost (never responded), and a
	// fifth request arrives long after the tracked 3x-interval threshold
	// has passed — also left unresponded so recordEchoResponse never runs
	// again and can't disturb the tracked interval the timeout check uses.
	echoTime:= base.Add(time.Minute)
	for i:= 0; i < 3; i++ {
		reqAt:= echoTime.Add(time.Duration(i) * 300 * time.Second)
		_, err:= mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoRequest, TEID: 0x11111111}, reqAt, CarryingNone)
		require.NoError(t, err)
		_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoResponse, TEID: 0x11111111}, reqAt.Add(5*time.Millisecond), CarryingNone)
		require.NoError(t, err)
	}
	lostReqAt:= echoTime.Add(3 * 300 * time.Second)
	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoRequest, TEID: 0x11111111}, lostReqAt, CarryingNone)
	require.NoError(t, err)
	nextReqAt:= lostReqAt.Add(20 * time.Minute)
	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoRequest, TEID: 0x11111111}, nextReqAt, CarryingNone)
	require.NoError(t, err)

	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgDeleteSessionRequest, TEID: 0x11111111}, nextReqAt.Add(time.Minute), CarryingNone)
	require.NoError(t, err)
	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgDeleteSessionResponse, TEID: 0x11111111}, nextReqAt.Add(2*time.Minute), CarryingNone)
	require.NoError(t, err)

	echoes:= tun.Echoes()
	lost:= echoes[3]
	assert.Nil(t, lost.ResponseTime, "the unresponded echo must never acquire a response time")
	assert.True(t, lost.IsTimeout, "an unresponded echo with a long gap to its successor is a timeout")
	assert.True(t, lost.ShowIndividually)

	for _, e:= range echoes {
		if e.ResponseTime != nil {
			assert.False(t, e.IsTimeout, "a responded echo must never be flagged as a timeout")
		}
	}
}

func TestX2HandoverCreatesNewTunnel(t *testing.T) {
	mgr:= NewManager(DefaultConfig())
	base:= time.Now()

	_, err:= mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionRequest,
		TEID: 0x11111111,
		IMSI: "001010000000001",
	}, base, CarryingNone)
	require.NoError(t, err)
	_, err = mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgCreateSessionResponse,
		TEID: 0x11111111,
		BearerContexts: []gtpv2.BearerContext{{FTEIDs: []gtpv2.FTEID{{TEID: 0x22222222}}}},
	}, base.Add(time.Millisecond), CarryingNone)
	require.NoError(t, err)

	hoAt:= base.Add(time.Minute)
	events, err:= mgr.Handle(&gtpv2.Message{
		MessageType: gtpv2.MsgModifyBearerResponse,
		TEID: 0x11111111,
		BearerContexts: []gtpv2.BearerContext{
			{FTEIDs: []gtpv2.FTEID{{TEID: 0x33333333}}},
		},
	}, hoAt, CarryingNone)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(0x11111111), events[0].OldTEID)
	assert.Equal(t, uint32(0x33333333), events[0].NewTEID)
	assert.Equal(t, HandoverX2, events[0].Type)

	oldTun, ok:= mgr.Get(0x11111111)
	require.True(t, ok)
	newTun, ok:= mgr.Get(0x33333333)
	require.True(t, ok)
	assert.Equal(t, oldTun.IMSI, newTun.IMSI)
	assert.Equal(t, "001010000000001", newTun.IMSI)
}

func TestMaxTunnelsRefusesCreation(t *testing.T) {
	cfg:= DefaultConfig()
	cfg.MaxTunnels = 1
	mgr:= NewManager(cfg)
	base:= time.Now()

	_, err:= mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgCreateSessionRequest, TEID: 1}, base, CarryingNone)
	require.NoError(t, err)

	_, err = mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgCreateSessionRequest, TEID: 2}, base, CarryingNone)
	require.Error(t, err)
}

func TestEchoResponseOnUnknownTEIDIsLogged(t *testing.T) {
	mgr:= NewManager(DefaultConfig())
	_, err:= mgr.Handle(&gtpv2.Message{MessageType: gtpv2.MsgEchoResponse, TEID: 0xDEAD}, time.Now(), CarryingNone)
	assert.Error(t, err)
}

package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inviteMsg = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Call-ID: abc123@example.com\r\n" +
	"From: \"Alice\" <sip:alice@example.com>;tag=111\r\n" +
	"To: <sip:bob@example.com>\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"P-Asserted-Identity: <sip:+15551230000@example.com>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 60\r\n" +
	"\r\n" +
	"v=0\r\n" +
	"s=call\r\n" +
	"c=IN IP4 10.0.0.5\r\n" +
	"m=audio 49170 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestProbeRequest(t *testing.T) {
	assert.True(t, Probe([]byte(inviteMsg)))
}

func TestProbeResponse(t *testing.T) {
	assert.True(t, Probe([]byte("SIP/2.0 200 OK\r\n\r\n")))
}

func TestParseInvite(t *testing.T) {
	msg, err:= Parse([]byte(inviteMsg))
	require.NoError(t, err)
	assert.True(t, msg.IsRequest)
	assert.Equal(t, "INVITE", msg.Method)
	assert.Equal(t, "abc123@example.com", msg.CallID)
	assert.Equal(t, "alice", msg.From.Username)
	assert.Equal(t, "example.com", msg.From.Domain)
	require.Len(t, msg.PAssertedIdentity, 1)
	assert.Equal(t, "+15551230000", msg.PAssertedIdentity[0].Username)
	assert.Equal(t, uint32(1), msg.CSeqNumber)
	assert.Equal(t, "INVITE", msg.CSeqMethod)

	require.NotNil(t, msg.SDP)
	assert.Equal(t, "10.0.0.5", msg.SDP.ConnIP)
	require.Len(t, msg.SDP.Media, 1)
	assert.Equal(t, uint16(49170), msg.SDP.Media[0].Port)
	assert.Equal(t, "audio", msg.SDP.Media[0].Type)
}

func TestParseStatusLine(t *testing.T) {
	msg, err:= Parse([]byte("SIP/2.0 200 OK\r\nCall-ID: xyz\r\n\r\n"))
	require.NoError(t, err)
	assert.False(t, msg.IsRequest)
	assert.Equal(t, 200, msg.StatusCode)
	assert.Equal(t, "xyz", msg.CallID)
}

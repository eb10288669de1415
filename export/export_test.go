package export

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/gtpv2"
	"github.com/corepcap/mobilecore/session"
	"github.com/corepcap/mobilecore/tunnel"
)

func TestBuildIncludesIdentifiersParticipantsAndTimeline(t *testing.T) {
	c:= session.NewCorrelator()
	mgr:= tunnel.NewManager(tunnel.DefaultConfig())
	at:= time.Now()

	create:= &gtpv2.Message{MessageType: gtpv2.MsgCreateSessionRequest, TEID: 0x42,
		IMSI: "001010000000001", APN: "internet", PAA: net.ParseIP("10.0.0.9")}
	_, err:= mgr.Handle(create, at, tunnel.CarryingNone)
	require.NoError(t, err)
	tun, ok:= mgr.Get(0x42)
	require.True(t, ok)

	m:= c.AttachTunnel(tun, model.SessionMessageRef{Timestamp: at, FrameNumber: 1, MessageType: "create-session-request"}, at)

	rec:= Build(m, c, mgr)
	assert.Equal(t, "001010000000001", rec.Identifiers.IMSI)
	assert.Len(t, rec.Participants.Tunnels, 1)
	require.Len(t, rec.Timeline, 1)
	assert.Equal(t, "create-session-request", rec.Timeline[0].MessageType)
	require.Len(t, rec.Tunnels, 1)
	assert.Equal(t, tunnel.StateCreating, tunnel.State(rec.Tunnels[0].State))
}

func TestWriteFileProducesValidJSON(t *testing.T) {
	dir:= t.TempDir()
	c:= session.NewCorrelator()
	at:= time.Now()
	m:= c.Merge(model.CorrelationKey{IMSI: "001010000000002"},
		model.SessionMessageRef{Timestamp: at, FrameNumber: 1}, at)

	rec:= Build(m, c, nil)
	path, err:= WriteFile(dir, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, rec.ID+".json"), path)

	data, err:= os.ReadFile(path)
	require.NoError(t, err)
	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "001010000000002", decoded.Identifiers.IMSI)
}

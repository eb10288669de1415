package session

import (
	"time"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/tunnel"
)

// AttachTunnel merges a GTP tunnel's identifiers (IMSI, UE IP, APN, control
// and user-plane TEID) into the owning master session. The
// pipeline calls this once per tunnel-affecting GTPv2-C message, after
// tunnel.Manager.Handle has updated the tunnel's own state.
func (c *Correlator) AttachTunnel(t *tunnel.Tunnel, ref model.SessionMessageRef, at time.Time) *MasterSession {
	key:= model.CorrelationKey{
		IMSI: t.IMSI,
		APN: t.APN,
		EPSBearerID: t.EPSBearerID,
		TEIDControl: t.UplinkTEID,
		TEIDUser: t.DownlinkTEID,
	}
	if t.UEIPv4 != nil {
		key.UEIPv4 = t.UEIPv4.String()
	}
	if t.UEIPv6 != nil {
		key.UEIPv6 = t.UEIPv6.String()
	}
	m:= c.Merge(key, ref, at)

	c.mu.Lock()
	m.TunnelIDs.Insert(t.ID)
	c.mu.Unlock()
	return m
}

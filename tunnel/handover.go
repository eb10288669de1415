package tunnel

import (
	"net"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/proto/gtpv2"
)

// handleModifyResponse cycles the tunnel MODIFYING→ACTIVE and, when handover
// detection is enabled, checks the response's Bearer Contexts for an uplink
// TEID different from the tunnel's own — the signature of a mobility event.
// The tunnel record is looked up (and stays keyed) by the message's own
// TEID, which is the stable session-addressing value; the *new* uplink
// TEID carried in the Bearer Context F-TEID becomes a separate tracked
// tunnel.
func (m *Manager) handleModifyResponse(msg *gtpv2.Message, at time.Time, carrying CarryingProtocol) ([]HandoverEvent, error) {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return nil, perr.New(perr.StateViolation, "tunnel.Manager", "modify-bearer response for unknown TEID")
	}
	if t.State != StateModifying && t.State != StateActive {
		return nil, perr.New(perr.StateViolation, "tunnel.Manager", "modify-bearer response outside MODIFYING/ACTIVE")
	}

	lastActivityBeforeUpdate:= t.LastActivity
	t.State = StateActive
	t.LastActivity = at

	if !m.cfg.EnableHandoverDetection {
		return nil, nil
	}

	newTEID, newIP, found:= findDivergentFTEID(msg, t.UplinkTEID)
	if !found {
		return nil, nil
	}

	newTunnel:= &Tunnel{
		ID: gid.GenerateTunnelID(),
		UplinkTEID: newTEID,
		State: StateActive,
		IMSI: t.IMSI,
		UEIPv4: t.UEIPv4,
		UEIPv6: t.UEIPv6,
		APN: t.APN,
		EPSBearerID: t.EPSBearerID,
		QCI: t.QCI,
		ENBIP: newIP,
		Created: at,
		LastActivity: at,
		Viz: t.Viz,
	}

	interruptionMS:= at.Sub(lastActivityBeforeUpdate).Milliseconds()
	hoType:= classifyHandoverType(carrying, interruptionMS)

	event:= HandoverEvent{
		Timestamp: at,
		OldTEID: t.UplinkTEID,
		NewTEID: newTEID,
		OldENBIP: t.ENBIP,
		NewENBIP: newIP,
		Type: hoType,
		InterruptionMS: interruptionMS,
	}
	newTunnel.Handovers = append(newTunnel.Handovers, event)
	m.insert(newTunnel)

	return []HandoverEvent{event}, nil
}

// classifyHandoverType picks X2 by default, overridden to S1/N2 by the
// carrying RAN protocol, but forced to INVALID when clock skew across
// interfaces yields a negative interruption — preserved rather than
// dropped.
func classifyHandoverType(carrying CarryingProtocol, interruptionMS int64) HandoverType {
	if interruptionMS < 0 {
		return HandoverQualityInvalid
	}
	switch carrying {
	case CarryingS1AP:
		return HandoverS1
	case CarryingNGAP:
		return HandoverN2
	default:
		return HandoverX2
	}
}

// findDivergentFTEID scans a Modify-Bearer-Response's Bearer Contexts for
// an F-TEID whose value differs from the tunnel's own uplink TEID.
func findDivergentFTEID(msg *gtpv2.Message, ownUplinkTEID uint32) (teid uint32, ip net.IP, found bool) {
	for _, bc:= range msg.BearerContexts {
		for _, f:= range bc.FTEIDs {
			if f.TEID != 0 && f.TEID != ownUplinkTEID {
				if f.IPv4 != nil {
					return f.TEID, f.IPv4, true
				}
				return f.TEID, f.IPv6, true
			}
		}
	}
	return 0, nil, false
}

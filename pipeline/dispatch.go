package pipeline

import (
	"time"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/diameter"
	"github.com/corepcap/mobilecore/proto/gtpv2"
	"github.com/corepcap/mobilecore/proto/http2"
	"github.com/corepcap/mobilecore/proto/ran"
	"github.com/corepcap/mobilecore/proto/rtp"
	"github.com/corepcap/mobilecore/proto/sba"
	"github.com/corepcap/mobilecore/proto/sip"
	"github.com/corepcap/mobilecore/reassembly"
	"github.com/corepcap/mobilecore/tunnel"
)

// dispatchContext carries the packet-level facts every per-message handler
// needs to build a model.SessionMessageRef and feed the right correlator
// call.
type dispatchContext struct {
	at time.Time
	frameNumber uint64
	ifaceKind model.InterfaceKind
	tuple model.FiveTuple
}

func (j *Job) baseRef(ctx dispatchContext, proto model.ApplicationProtocol) model.SessionMessageRef {
	return model.SessionMessageRef{
		Timestamp: ctx.at,
		FrameNumber: ctx.frameNumber,
		Interface: ctx.ifaceKind,
		Protocol: proto,
		SrcIP: ctx.tuple.SrcIP.String(),
		SrcPort: int(ctx.tuple.SrcPort),
		DstIP: ctx.tuple.DstIP.String(),
		DstPort: int(ctx.tuple.DstPort),
	}
}

// dispatchSCTP routes one reassembled SCTP user message by its PPID, falling
// back to Probe-based detection when the PPID is unrecognized or disagrees
// with what the bytes look like: the disagreement is logged as a warning,
// never rejected outright.
func (j *Job) dispatchSCTP(ctx dispatchContext, ppid uint32, payload []byte) {
	proto, ppidKnown:= reassembly.ProtocolForPPID(ppid)
	if ppidKnown {
		matches:= true
		switch proto {
		case model.AppS1AP, model.AppNGAP, model.AppX2AP:
			matches = ran.Probe(payload)
		case model.AppDiameter:
			matches = diameter.Probe(payload)
		}
		if !matches {
			j.warnf(ctx, "sctp PPID %d does not match the bytes of %s; probing instead", ppid, proto)
			j.probeSignalling(ctx, payload, true, ppid)
			return
		}
	}
	switch {
	case ppidKnown && proto == model.AppS1AP:
		j.dispatchS1AP(ctx, payload)
	case ppidKnown && proto == model.AppNGAP:
		j.dispatchNGAP(ctx, payload)
	case ppidKnown && proto == model.AppX2AP:
		j.dispatchX2AP(ctx, payload)
	case ppidKnown && proto == model.AppDiameter:
		j.dispatchDiameter(ctx, payload)
	default:
		j.probeSignalling(ctx, payload, ppidKnown, ppid)
	}
}

// probeSignalling is the PPID-agnostic fallback path: try every SCTP-carried
// protocol's Probe in turn. Used when the PPID is missing/unrecognized, and
// also as a cross-check that surfaces a warning event when a recognized
// PPID's bytes don't actually look like that protocol.
func (j *Job) probeSignalling(ctx dispatchContext, payload []byte, ppidKnown bool, ppid uint32) {
	switch {
	case ran.Probe(payload):
		j.dispatchS1AP(ctx, payload)
	case ran.ProbeNGAP(payload):
		j.dispatchNGAP(ctx, payload)
	case ran.ProbeX2AP(payload):
		j.dispatchX2AP(ctx, payload)
	case diameter.Probe(payload):
		j.dispatchDiameter(ctx, payload)
	default:
		if ppidKnown {
			j.warnf(ctx, "sctp PPID %d did not match the bytes of any probed protocol", ppid)
		}
	}
}

func (j *Job) dispatchS1AP(ctx dispatchContext, payload []byte) {
	msg, err:= ran.Parse(payload)
	if err != nil {
		j.warn(ctx, "ran.Parse(S1AP)", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppS1AP)
	ref.MessageType = pduMessageType(msg.PDU)
	ref.ParsedData = msg
	j.correlator.UpsertS1AP(msg, ref, ctx.at)
}

func (j *Job) dispatchNGAP(ctx dispatchContext, payload []byte) {
	msg, err:= ran.ParseNGAP(payload)
	if err != nil {
		j.warn(ctx, "ran.ParseNGAP", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppNGAP)
	ref.MessageType = pduMessageType(msg.PDU)
	ref.ParsedData = msg
	j.correlator.UpsertNGAP(msg, ref, ctx.at)
}

func (j *Job) dispatchX2AP(ctx dispatchContext, payload []byte) {
	msg, err:= ran.ParseX2AP(payload)
	if err != nil {
		j.warn(ctx, "ran.ParseX2AP", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppX2AP)
	ref.MessageType = pduMessageType(msg.PDU)
	ref.ParsedData = msg
	j.correlator.UpsertX2AP(msg, ref, ctx.at)
}

func (j *Job) dispatchDiameter(ctx dispatchContext, payload []byte) {
	msg, err:= diameter.Parse(payload)
	if err != nil {
		j.warn(ctx, "diameter.Parse", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppDiameter)
	ref.MessageType = diameterMessageType(msg)
	ref.ParsedData = msg
	j.correlator.UpsertDiameter(msg, ref, ctx.at)
}

// dispatchDiameterStream accumulates one TCP stream's bytes and peels off
// every complete Diameter message the accumulated buffer now covers
// (Diameter's own 24-bit message length), re-buffering whatever remains
// incomplete.
func (j *Job) dispatchDiameterStream(ctx dispatchContext, chunk []byte) {
	buf:= j.diameterBufs.append(ctx.tuple, chunk)
	for {
		if len(buf) < 20 {
			break
		}
		msgLen:= int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
		if msgLen < 20 || len(buf) < msgLen {
			break
		}
		j.dispatchDiameter(ctx, buf[:msgLen])
		buf = buf[msgLen:]
	}
	j.diameterBufs.setRemainder(ctx.tuple, buf)
}

func (j *Job) dispatchGTPv2(ctx dispatchContext, payload []byte) {
	msg, err:= gtpv2.Parse(payload)
	if err != nil {
		j.warn(ctx, "gtpv2.Parse", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppGTPv2C)
	ref.MessageType = gtpv2MessageType(msg.MessageType)
	ref.ParsedData = msg
	events, herr:= j.tunnels.Handle(msg, ctx.at, tunnelCarryingProtocol(ctx.ifaceKind))
	if herr != nil {
		j.warn(ctx, "tunnel.Manager.Handle", herr)
	}
	if tun, ok:= j.tunnels.Get(msg.TEID); ok {
		j.correlator.AttachTunnel(tun, ref, ctx.at)
	} else {
		// No tunnel yet resolvable by this TEID (e.g. a Create-Session
		// Request observed before its response assigns the peer TEID);
		// the message is still recorded on its own, TEID-keyed session.
		j.correlator.Merge(model.CorrelationKey{TEIDControl: msg.TEID, IMSI: msg.IMSI, APN: msg.APN}, ref, ctx.at)
	}

	// A handover spins off a new tunnel (the new uplink TEID) distinct from
	// the one msg.TEID resolves to; attach it too, so the master session
	// ends up referencing both legs of the mobility event.
	for _, event:= range events {
		if newTun, ok:= j.tunnels.Get(event.NewTEID); ok {
			j.correlator.AttachTunnel(newTun, ref, ctx.at)
		}
	}
}

func (j *Job) dispatchGTPU(ctx dispatchContext, payload []byte) {
	teid, ok:= gtpuTEID(payload)
	if !ok {
		return
	}
	uplink:= ctx.ifaceKind != model.InterfaceS1U || ctx.tuple.DstPort == 2152
	j.tunnels.RecordDataPlane(teid, uplink, len(payload))
}

func (j *Job) dispatchSIP(ctx dispatchContext, payload []byte) {
	msg, err:= sip.Parse(payload)
	if err != nil {
		j.warn(ctx, "sip.Parse", err)
		return
	}
	ref:= j.baseRef(ctx, model.AppSIP)
	ref.MessageType = sipMessageType(msg)
	ref.ParsedData = msg
	j.correlator.UpsertSIP(msg, ref, ctx.at)

	if msg.SDP != nil {
		connIP:= msg.SDP.ConnIP
		for _, media:= range msg.SDP.Media {
			if media.Port == 0 {
				continue
			}
			j.portLearn.Register(connIP, uint16(media.Port), msg.CallID, ctx.at)
		}
	}
}

func (j *Job) dispatchRTP(ctx dispatchContext, payload []byte) {
	pkt, err:= rtp.ParseRTP(payload)
	if err != nil {
		j.warn(ctx, "rtp.ParseRTP", err)
		return
	}
	j.rtpTracker.Observe(pkt, ctx.at)
	callID, _:= j.portLearn.Lookup(ctx.tuple.DstIP.String(), ctx.tuple.DstPort, ctx.at)
	ref:= j.baseRef(ctx, model.AppRTP)
	ref.MessageType = "rtp"
	ref.ParsedData = pkt
	j.correlator.UpsertRTP(callID, ref, ctx.at)
}

func (j *Job) dispatchRTCP(ctx dispatchContext, payload []byte) {
	pkt, err:= rtp.ParseRTCP(payload)
	if err != nil {
		j.warn(ctx, "rtp.ParseRTCP", err)
		return
	}
	callID, _:= j.portLearn.Lookup(ctx.tuple.DstIP.String(), ctx.tuple.DstPort, ctx.at)
	ref:= j.baseRef(ctx, model.AppRTCP)
	ref.MessageType = "rtcp"
	ref.ParsedData = pkt
	j.correlator.UpsertRTP(callID, ref, ctx.at)
}

// dispatchHTTP2Stream feeds one TCP direction's bytes through the
// connection's frame/stream state machine, re-buffering any trailing
// partial frame exactly as http2.SplitFrames reports it.
func (j *Job) dispatchHTTP2Stream(ctx dispatchContext, dir http2.Direction, conn *http2.Connection, chunk []byte) {
	buf:= j.http2Bufs.append(ctx.tuple, chunk)
	frames, remainder, err:= http2.SplitFrames(buf)
	j.http2Bufs.setRemainder(ctx.tuple, remainder)
	if err != nil {
		j.warn(ctx, "http2.SplitFrames", err)
		return
	}
	for _, f:= range frames {
		stream, ferr:= conn.HandleFrame(dir, f)
		if ferr != nil {
			j.warn(ctx, "http2.Connection.HandleFrame", ferr)
			continue
		}
		if stream == nil || !stream.Complete() {
			continue
		}
		interaction, ok:= sba.Classify(stream)
		if !ok {
			continue
		}
		ref:= j.baseRef(ctx, model.AppSBA)
		ref.MessageType = interaction.API + " " + interaction.Service
		ref.ParsedData = interaction
		j.correlator.UpsertSBA(interaction, streamKey(ctx.tuple, stream.ID), ref, ctx.at)
	}
}

func pduMessageType(pdu *ran.PDU) string {
	if pdu == nil {
		return ""
	}
	kind:= "initiating"
	switch pdu.Type {
	case ran.PDUSuccessful:
		kind = "successful-outcome"
	case ran.PDUUnsuccessful:
		kind = "unsuccessful-outcome"
	}
	return kind
}

func gtpv2MessageType(t uint8) string {
	switch t {
	case gtpv2.MsgCreateSessionRequest:
		return "create-session-request"
	case gtpv2.MsgCreateSessionResponse:
		return "create-session-response"
	case gtpv2.MsgModifyBearerRequest:
		return "modify-bearer-request"
	case gtpv2.MsgModifyBearerResponse:
		return "modify-bearer-response"
	case gtpv2.MsgDeleteSessionRequest:
		return "delete-session-request"
	case gtpv2.MsgDeleteSessionResponse:
		return "delete-session-response"
	case gtpv2.MsgEchoRequest:
		return "echo-request"
	case gtpv2.MsgEchoResponse:
		return "echo-response"
	default:
		return "unknown"
	}
}

func diameterMessageType(msg *diameter.Message) string {
	if msg.IsRequest {
		return "request"
	}
	return "answer"
}

func sipMessageType(msg *sip.Message) string {
	if msg.IsRequest {
		return msg.Method
	}
	return msg.ReasonPhrase
}

// tunnelCarryingProtocol reports which RAN signalling interface is in play
// for a GTPv2-C message, so the tunnel manager can pick the right handover
// detector: S1-U's peer control plane is S1-MME/S1AP, N3's is
// N2/NGAP; S5/S8 and N4 carry no handover-triggering RAN signalling of
// their own.
func tunnelCarryingProtocol(kind model.InterfaceKind) tunnel.CarryingProtocol {
	switch kind {
	case model.InterfaceS1MME, model.InterfaceS1U:
		return tunnel.CarryingS1AP
	case model.InterfaceN2, model.InterfaceN3:
		return tunnel.CarryingNGAP
	default:
		return tunnel.CarryingNone
	}
}

// Package model holds the value types shared across the capture-to-session
// pipeline: the wire-level identifiers and packet/flow records
// that every later stage (reassembly, protocol parsers, correlator, tunnel
// manager, exporter) passes around. Keeping them in one leaf package avoids
// import cycles between those stages.
package model

import (
	"net/netip"
	"time"

	"github.com/corepcap/mobilecore/gid"
)

// IPProtocol is the IANA protocol number carried in the IPv4/IPv6 header.
type IPProtocol uint8

const (
	ProtoICMP IPProtocol = 1
	ProtoTCP IPProtocol = 6
	ProtoUDP IPProtocol = 17
	ProtoSCTP IPProtocol = 132
)

// FiveTuple identifies a flow by its endpoints and transport protocol.
// Addresses are netip.Addr rather than net.IP so FiveTuple stays comparable
// and usable as a map key directly, since per-tuple reassembly and flow
// tables key on it. Ordering-insensitive canonicalization is deliberately
// not applied here; bidirectional flows are joined later by the session
// correlator via session keys, not by sorting the tuple.
type FiveTuple struct {
	SrcIP netip.Addr
	DstIP netip.Addr
	SrcPort uint16
	DstPort uint16
	Protocol IPProtocol
}

func (t FiveTuple) String() string {
	return t.SrcIP.String() + ":" + portString(t.SrcPort) + "->" +
		t.DstIP.String() + ":" + portString(t.DstPort) + "/" + protoString(t.Protocol)
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	buf:= [5]byte{}
	i:= len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

func protoString(p IPProtocol) string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoSCTP:
		return "sctp"
	case ProtoICMP:
		return "icmp"
	default:
		return "ip"
	}
}

// Reverse returns the tuple seen from the other endpoint.
func (t FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP: t.DstIP,
		DstIP: t.SrcIP,
		SrcPort: t.DstPort,
		DstPort: t.SrcPort,
		Protocol: t.Protocol,
	}
}

// InterfaceKind is the closed set of telecom interface roles the classifier
// (C2) can infer.
type InterfaceKind string

const (
	InterfaceUnknown InterfaceKind = "UNKNOWN"
	InterfaceS1MME InterfaceKind = "S1-MME"
	InterfaceS1U InterfaceKind = "S1-U"
	InterfaceX2C InterfaceKind = "X2-C"
	InterfaceN2 InterfaceKind = "N2"
	InterfaceN3 InterfaceKind = "N3"
	InterfaceN4 InterfaceKind = "N4"
	InterfaceN6 InterfaceKind = "N6"
	InterfaceS6a InterfaceKind = "S6a"
	InterfaceGx InterfaceKind = "Gx"
	InterfaceRx InterfaceKind = "Rx"
	InterfaceGy InterfaceKind = "Gy"
	InterfaceS5S8C InterfaceKind = "S5/S8-C"
	InterfaceSGi InterfaceKind = "SGi"
	InterfaceGi InterfaceKind = "Gi"
	InterfaceIMS InterfaceKind = "IMS"
)

// Interface describes one capture interface, as carried from a PCAPNG
// Interface Description Block through the rest of the pipeline.
type Interface struct {
	ID int
	Name string
	Description string
	Kind InterfaceKind
	LinkType int // DLT_/LINKTYPE_ number governing link-layer framing
	TSResolNS uint64 // effective timestamp resolution, in nanoseconds
	Speed uint64
	OS string
	Hardware string
}

// ApplicationProtocol is the closed tag set of protocols the pipeline can
// recognize at layer 7.
type ApplicationProtocol string

const (
	AppUnknown ApplicationProtocol = "UNKNOWN"
	AppSIP ApplicationProtocol = "SIP"
	AppRTP ApplicationProtocol = "RTP"
	AppRTCP ApplicationProtocol = "RTCP"
	AppHTTP2 ApplicationProtocol = "HTTP2"
	AppGTPv2C ApplicationProtocol = "GTPv2-C"
	AppS1AP ApplicationProtocol = "S1AP"
	AppNGAP ApplicationProtocol = "NGAP"
	AppX2AP ApplicationProtocol = "X2AP"
	AppNAS ApplicationProtocol = "NAS"
	AppDiameter ApplicationProtocol = "DIAMETER"
	AppSBA ApplicationProtocol = "SBA"
)

// PacketMetadata is the unit of data flowing out of C1/C3 and consumed by
// every downstream stage.
type PacketMetadata struct {
	FrameNumber uint64
	Timestamp time.Time
	OriginalLength int
	CapturedLength int
	Tuple FiveTuple
	Interface *Interface
	Protocol ApplicationProtocol
	Payload []byte
}

// Flow tracks per-five-tuple bookkeeping shared by the reassembly and
// correlation stages. Invariant: LastSeen is monotonic non
// decreasing across successive Touch calls.
type Flow struct {
	ID gid.FlowID
	Tuple FiveTuple
	FirstSeen time.Time
	LastSeen time.Time
	Packets uint64
	Bytes uint64
	SessionKeyHint string
	RTPTrackerID *gid.RTPStreamID
}

// NewFlow creates a Flow in response to the first packet observed for tuple.
func NewFlow(tuple FiveTuple, at time.Time) *Flow {
	return &Flow{
		ID: gid.GenerateFlowID(),
		Tuple: tuple,
		FirstSeen: at,
		LastSeen: at,
	}
}

// Touch records one more packet of size n observed at time t. It never
// panics: a t older than LastSeen still counts the packet but leaves
// LastSeen unchanged, which keeps the invariant above.
func (f *Flow) Touch(t time.Time, n int) {
	if t.After(f.LastSeen) {
		f.LastSeen = t
	}
	f.Packets++
	f.Bytes += uint64(n)
}

// Expired reports whether the flow has been inactive for longer than
// timeout as of now.
func (f *Flow) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(f.LastSeen) > timeout
}

// CorrelationKey is the bag of optional cross-protocol identifiers the
// session correlator (C10) uses to canonicalize messages into master
// sessions.
type CorrelationKey struct {
	IMSI string
	MSISDN string
	IMPI string
	IMPU string
	SUPI string
	SUCI string
	SIPCallID string
	DiameterSession string
	ICID string
	TEIDControl uint32
	TEIDUser uint32
	UEIPv4 string
	UEIPv6 string
	APN string
	EPSBearerID uint8
	ENBUES1APID uint32
	MMEUES1APID uint32
	RANUENGAPID uint32
	AMFUENGAPID uint32
	HTTP2StreamKey string // five-tuple + stream id, scoped correlation only
}

// IsZero reports whether the key carries no identifiers at all.
func (k CorrelationKey) IsZero() bool {
	return k == CorrelationKey{}
}

// Merge returns the union of two correlation keys, preferring non-zero
// fields from k and falling back to other's where k is zero-valued. This
// underlies master-session merges.
func (k CorrelationKey) Merge(other CorrelationKey) CorrelationKey {
	out:= k
	if out.IMSI == "" {
		out.IMSI = other.IMSI
	}
	if out.MSISDN == "" {
		out.MSISDN = other.MSISDN
	}
	if out.IMPI == "" {
		out.IMPI = other.IMPI
	}
	if out.IMPU == "" {
		out.IMPU = other.IMPU
	}
	if out.SUPI == "" {
		out.SUPI = other.SUPI
	}
	if out.SUCI == "" {
		out.SUCI = other.SUCI
	}
	if out.SIPCallID == "" {
		out.SIPCallID = other.SIPCallID
	}
	if out.DiameterSession == "" {
		out.DiameterSession = other.DiameterSession
	}
	if out.ICID == "" {
		out.ICID = other.ICID
	}
	if out.TEIDControl == 0 {
		out.TEIDControl = other.TEIDControl
	}
	if out.TEIDUser == 0 {
		out.TEIDUser = other.TEIDUser
	}
	if out.UEIPv4 == "" {
		out.UEIPv4 = other.UEIPv4
	}
	if out.UEIPv6 == "" {
		out.UEIPv6 = other.UEIPv6
	}
	if out.APN == "" {
		out.APN = other.APN
	}
	if out.EPSBearerID == 0 {
		out.EPSBearerID = other.EPSBearerID
	}
	if out.ENBUES1APID == 0 {
		out.ENBUES1APID = other.ENBUES1APID
	}
	if out.MMEUES1APID == 0 {
		out.MMEUES1APID = other.MMEUES1APID
	}
	if out.RANUENGAPID == 0 {
		out.RANUENGAPID = other.RANUENGAPID
	}
	if out.AMFUENGAPID == 0 {
		out.AMFUENGAPID = other.AMFUENGAPID
	}
	if out.HTTP2StreamKey == "" {
		out.HTTP2StreamKey = other.HTTP2StreamKey
	}
	return out
}

// SessionMessageRef is the building block of timelines: a
// lightweight, value-typed reference to one parsed message, carrying enough
// to render a timeline without holding back-pointers into the session
// graph.
type SessionMessageRef struct {
	Timestamp time.Time
	FrameNumber uint64
	Interface InterfaceKind
	Protocol ApplicationProtocol
	MessageType string
	SrcIP string
	SrcPort int
	DstIP string
	DstPort int
	ParsedData interface{}
	Correlation CorrelationKey
}

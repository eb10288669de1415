package gid

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Tags identify the stable, typed identifiers handed out across the
// capture-to-session pipeline. Every entity that survives a single packet
// (flows, tunnels, sessions, jobs,...) gets one of these instead of a raw
// uuid.UUID so that exported JSON and log lines are self-describing.
const (
	InvalidTag = "xxx"
	JobTag = "job"
	FlowTag = "flo"
	TunnelTag = "tun"
	MasterSessionTag = "ses"
	SIPCallTag = "sip"
	DiameterDialogTag = "dia"
	UEContextTag = "uec"
	SBAInteractionTag = "sba"
	RTPStreamTag = "rtp"
	TCPStreamTag = "tcp"
	SCTPAssocTag = "sct"
	HandoverTag = "hnd"
)

type tagToIDConstructor func(uuid.UUID) ID

var idConstructorMap = map[string]tagToIDConstructor{
	JobTag: func(id uuid.UUID) ID { return NewJobID(id) },
	FlowTag: func(id uuid.UUID) ID { return NewFlowID(id) },
	TunnelTag: func(id uuid.UUID) ID { return NewTunnelID(id) },
	MasterSessionTag: func(id uuid.UUID) ID { return NewMasterSessionID(id) },
	SIPCallTag: func(id uuid.UUID) ID { return NewSIPCallID(id) },
	DiameterDialogTag: func(id uuid.UUID) ID { return NewDiameterDialogID(id) },
	UEContextTag: func(id uuid.UUID) ID { return NewUEContextID(id) },
	SBAInteractionTag: func(id uuid.UUID) ID { return NewSBAInteractionID(id) },
	RTPStreamTag: func(id uuid.UUID) ID { return NewRTPStreamID(id) },
	TCPStreamTag: func(id uuid.UUID) ID { return NewTCPStreamID(id) },
	SCTPAssocTag: func(id uuid.UUID) ID { return NewSCTPAssocID(id) },
	HandoverTag: func(id uuid.UUID) ID { return NewHandoverID(id) },
}

func parseIDParts(str string) (string, uuid.UUID, error) {
	parts:= strings.Split(str, "_")
	if len(parts) != 2 {
		return "", uuid.Nil, errors.New("invalid GID structure")
	}
	idPart, err:= decodeUUID(parts[1])
	if err != nil {
		return "", uuid.Nil, errors.Wrap(err, "invalid unique id part of GID")
	}
	return parts[0], idPart, nil
}

func ParseID(str string) (ID, error) {
	tagName, uniquePart, err:= parseIDParts(str)
	if err != nil {
		return nil, err
	}

	constructor:= idConstructorMap[tagName]
	if constructor == nil {
		return nil, errors.Errorf("no known gid for tag %s", tagName)
	}

	return constructor(uniquePart), nil
}

func ParseIDAs(str string, destID interface{}) error {
	id, err:= ParseID(str)
	if err != nil {
		return errors.Wrapf(err, "parse ID failed: %s", str)
	}
	return assignTo(id, destID)
}

// JobID identifies one run of the pipeline over one capture.
type JobID struct{ baseID }

func (JobID) GetType() string { return JobTag }
func (id JobID) String() string { return String(id) }
func NewJobID(u uuid.UUID) JobID { return JobID{baseID(u)} }
func GenerateJobID() JobID { return NewJobID(uuid.New()) }
func (id JobID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *JobID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// FlowID identifies a five-tuple flow for the lifetime of its activity.
type FlowID struct{ baseID }

func (FlowID) GetType() string { return FlowTag }
func (id FlowID) String() string { return String(id) }
func NewFlowID(u uuid.UUID) FlowID { return FlowID{baseID(u)} }
func GenerateFlowID() FlowID { return NewFlowID(uuid.New()) }
func (id FlowID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *FlowID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// TunnelID identifies one GTP tunnel record (one per uplink TEID lifetime).
type TunnelID struct{ baseID }

func (TunnelID) GetType() string { return TunnelTag }
func (id TunnelID) String() string { return String(id) }
func NewTunnelID(u uuid.UUID) TunnelID { return TunnelID{baseID(u)} }
func GenerateTunnelID() TunnelID { return NewTunnelID(uuid.New()) }
func (id TunnelID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *TunnelID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// MasterSessionID identifies a correlation root.
type MasterSessionID struct{ baseID }

func (MasterSessionID) GetType() string { return MasterSessionTag }
func (id MasterSessionID) String() string { return String(id) }
func NewMasterSessionID(u uuid.UUID) MasterSessionID {
	return MasterSessionID{baseID(u)}
}
func GenerateMasterSessionID() MasterSessionID {
	return NewMasterSessionID(uuid.New())
}
func (id MasterSessionID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *MasterSessionID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// SIPCallID identifies one SIP call child session.
type SIPCallID struct{ baseID }

func (SIPCallID) GetType() string { return SIPCallTag }
func (id SIPCallID) String() string { return String(id) }
func NewSIPCallID(u uuid.UUID) SIPCallID { return SIPCallID{baseID(u)} }
func GenerateSIPCallID() SIPCallID { return NewSIPCallID(uuid.New()) }
func (id SIPCallID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *SIPCallID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// DiameterDialogID identifies one Diameter Session-Id dialog.
type DiameterDialogID struct{ baseID }

func (DiameterDialogID) GetType() string { return DiameterDialogTag }
func (id DiameterDialogID) String() string { return String(id) }
func NewDiameterDialogID(u uuid.UUID) DiameterDialogID {
	return DiameterDialogID{baseID(u)}
}
func GenerateDiameterDialogID() DiameterDialogID {
	return NewDiameterDialogID(uuid.New())
}
func (id DiameterDialogID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *DiameterDialogID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// UEContextID identifies one S1AP/NGAP UE context, keyed by the (eNB/AMF, UE
// id) pair at construction time.
type UEContextID struct{ baseID }

func (UEContextID) GetType() string { return UEContextTag }
func (id UEContextID) String() string { return String(id) }
func NewUEContextID(u uuid.UUID) UEContextID {
	return UEContextID{baseID(u)}
}
func GenerateUEContextID() UEContextID {
	return NewUEContextID(uuid.New())
}
func (id UEContextID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *UEContextID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// SBAInteractionID identifies one completed HTTP/2 stream classified as a 5G
// service-based-architecture interaction.
type SBAInteractionID struct{ baseID }

func (SBAInteractionID) GetType() string { return SBAInteractionTag }
func (id SBAInteractionID) String() string { return String(id) }
func NewSBAInteractionID(u uuid.UUID) SBAInteractionID {
	return SBAInteractionID{baseID(u)}
}
func GenerateSBAInteractionID() SBAInteractionID {
	return NewSBAInteractionID(uuid.New())
}
func (id SBAInteractionID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *SBAInteractionID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// RTPStreamID identifies one per-SSRC RTP stream tracker.
type RTPStreamID struct{ baseID }

func (RTPStreamID) GetType() string { return RTPStreamTag }
func (id RTPStreamID) String() string { return String(id) }
func NewRTPStreamID(u uuid.UUID) RTPStreamID {
	return RTPStreamID{baseID(u)}
}
func GenerateRTPStreamID() RTPStreamID {
	return NewRTPStreamID(uuid.New())
}
func (id RTPStreamID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *RTPStreamID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// TCPStreamID identifies a bidirectional TCP stream.
type TCPStreamID struct{ baseID }

func (TCPStreamID) GetType() string { return TCPStreamTag }
func (id TCPStreamID) String() string { return String(id) }
func NewTCPStreamID(u uuid.UUID) TCPStreamID {
	return TCPStreamID{baseID(u)}
}
func GenerateTCPStreamID() TCPStreamID {
	return NewTCPStreamID(uuid.New())
}
func (id TCPStreamID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *TCPStreamID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// SCTPAssocID identifies an SCTP association by its own generated id (not
// the wire verification tag, which is not guaranteed unique across time).
type SCTPAssocID struct{ baseID }

func (SCTPAssocID) GetType() string { return SCTPAssocTag }
func (id SCTPAssocID) String() string { return String(id) }
func NewSCTPAssocID(u uuid.UUID) SCTPAssocID {
	return SCTPAssocID{baseID(u)}
}
func GenerateSCTPAssocID() SCTPAssocID {
	return NewSCTPAssocID(uuid.New())
}
func (id SCTPAssocID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *SCTPAssocID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// HandoverID identifies one handover event record.
type HandoverID struct{ baseID }

func (HandoverID) GetType() string { return HandoverTag }
func (id HandoverID) String() string { return String(id) }
func NewHandoverID(u uuid.UUID) HandoverID {
	return HandoverID{baseID(u)}
}
func GenerateHandoverID() HandoverID {
	return NewHandoverID(uuid.New())
}
func (id HandoverID) MarshalText() ([]byte, error) {
	return toText(id)
}
func (id *HandoverID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

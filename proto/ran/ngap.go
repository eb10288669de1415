package ran

import "encoding/binary"

// NGAP procedure codes relevant to UE-context, PDU session, and mobility
// tracking (3GPP TS 38.413 §9.3.8).
const (
	NGAPProcInitialUEMessage uint8 = 15
	NGAPProcUplinkNASTransport uint8 = 46
	NGAPProcDownlinkNASTransport uint8 = 4
	NGAPProcPDUSessionResourceSetup uint8 = 29
	NGAPProcPathSwitchRequest uint8 = 39
	NGAPProcHandoverNotification uint8 = 23
	NGAPProcHandoverRequest uint8 = 0
)

// NGAP IE identifiers decoded by this package (3GPP TS 38.413 §9.3.7 style
// numbering; only the subset needed for UE-context and session correlation
// is implemented).
const (
	NGAPIERANUENGAPID uint16 = 10
	NGAPIEAMFUENGAPID uint16 = 0
	NGAPIENASPDU uint16 = 38
	NGAPIEPDUSessionResourceSetup uint16 = 74
	NGAPIECause uint16 = 15
)

// PDUSessionResourceSetupItem is a decoded N2 PDU-session setup item: the
// session id plus the confirmed UPF-side GTP-U transport.
type PDUSessionResourceSetupItem struct {
	PDUSessionID uint8
	QFI uint8
	TEID uint32
}

// NGAPMessage is a decoded NGAP PDU.
type NGAPMessage struct {
	PDU *PDU
	RANUENGAPID uint32
	AMFUENGAPID uint32
	NASPDU []byte
	PDUSessionSetups []PDUSessionResourceSetupItem
	Cause []byte
}

// ProbeNGAP heuristically identifies NGAP framing.
func ProbeNGAP(data []byte) bool {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return false
	}
	return pdu.Type <= PDUUnsuccessful
}

// ParseNGAP decodes an NGAP PDU and its UE-context/session correlation IEs.
func ParseNGAP(data []byte) (*NGAPMessage, error) {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return nil, err
	}
	msg:= &NGAPMessage{PDU: pdu}
	for _, ie:= range pdu.IEs {
		switch ie.ID {
		case NGAPIERANUENGAPID:
			if len(ie.Value) >= 4 {
				msg.RANUENGAPID = binary.BigEndian.Uint32(ie.Value)
			}
		case NGAPIEAMFUENGAPID:
			msg.AMFUENGAPID = decode40(ie.Value)
		case NGAPIENASPDU:
			msg.NASPDU = ie.Value
		case NGAPIEPDUSessionResourceSetup:
			msg.PDUSessionSetups = decodePDUSessionSetups(ie.Value)
		case NGAPIECause:
			msg.Cause = ie.Value
		}
	}
	return msg, nil
}

// decode40 decodes a 5-byte big-endian AMF-UE-NGAP-ID down into the low 32
// bits (3GPP TS 38.413 carries it as a 40-bit value; CorrelationKey stores
// identifiers as uint32).
func decode40(b []byte) uint32 {
	if len(b) < 5 {
		return 0
	}
	var v uint64
	for _, c:= range b[:5] {
		v = v<<8 | uint64(c)
	}
	return uint32(v & 0xFFFFFFFF)
}

// decodePDUSessionSetups decodes a count-prefixed list of PDU-session
// resource setup items: 1-byte session id, 1-byte QFI, 4-byte TEID.
func decodePDUSessionSetups(value []byte) []PDUSessionResourceSetupItem {
	if len(value) < 1 {
		return nil
	}
	count:= int(value[0])
	pos:= 1
	var out []PDUSessionResourceSetupItem
	for i:= 0; i < count && pos+6 <= len(value); i++ {
		out = append(out, PDUSessionResourceSetupItem{
			PDUSessionID: value[pos],
			QFI: value[pos+1],
			TEID: binary.BigEndian.Uint32(value[pos+2: pos+6]),
		})
		pos += 6
	}
	return out
}

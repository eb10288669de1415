package ran

import (
	"encoding/binary"
	"net"
)

// S1AP procedure codes relevant to UE-context and bearer tracking (3GPP TS
// 36.413 §9.3.8).
const (
	S1APProcInitialContextSetup uint8 = 9
	S1APProcUEContextRelease uint8 = 23
	S1APProcInitialUEMessage uint8 = 12
	S1APProcDownlinkNASTransport uint8 = 11
	S1APProcUplinkNASTransport uint8 = 13
	S1APProcE_RABSetup uint8 = 5
	S1APProcPathSwitchRequest uint8 = 39
	S1APProcHandoverNotification uint8 = 31
	S1APProcHandoverPreparation uint8 = 0
)

// S1AP IE identifiers decoded by this package (3GPP TS 36.413 §9.3.7 style
// numbering; only the subset needed for UE-context and bearer tracking
// is implemented).
const (
	S1APIEeNBUES1APID uint16 = 8
	S1APIEMMEUES1APID uint16 = 0
	S1APIENASPDU uint16 = 26
	S1APIETAI uint16 = 67
	S1APIEEUTRANCGI uint16 = 100
	S1APIEUESecurityCapabilities uint16 = 107
	S1APIEERABToBeSetupList uint16 = 24
	S1APIEERABSetupList uint16 = 116
	S1APIECause uint16 = 2
	S1APIERRCEstablishmentCause uint16 = 134
)

// ERABToBeSetup is a decoded E-RAB-To-Be-Setup-Item: the bearer id, its QoS
// class, the transport-layer address and GTP-TEID for the user plane, and
// an optional embedded ESM message (opaque NAS bytes).
type ERABToBeSetup struct {
	ERABID uint8
	QCI uint8
	TransportIP net.IP
	TEID uint32
	NASESM []byte
}

// ERABSetup is a decoded E-RAB-Setup-Item: the confirmed bearer id plus the
// eNB-side transport address/TEID.
type ERABSetup struct {
	ERABID uint8
	TransportIP net.IP
	TEID uint32
}

// S1APMessage is a decoded S1AP PDU.
type S1APMessage struct {
	PDU *PDU
	ENBUES1APID uint32
	MMEUES1APID uint32
	NASPDU []byte
	TAI TAI
	CGI EUTRANCGI
	UESecurityCapabilities []byte
	ERABsToSetup []ERABToBeSetup
	ERABsSetup []ERABSetup
	Cause []byte
	RRCEstablishmentCause uint8
}

// Probe heuristically identifies S1AP framing by checking the PDU type and
// procedure code decode cleanly.
func Probe(data []byte) bool {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return false
	}
	return pdu.Type <= PDUUnsuccessful
}

// Parse decodes an S1AP PDU and its UE-context/bearer-tracking IEs.
func Parse(data []byte) (*S1APMessage, error) {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return nil, err
	}
	msg:= &S1APMessage{PDU: pdu}
	for _, ie:= range pdu.IEs {
		switch ie.ID {
		case S1APIEeNBUES1APID:
			msg.ENBUES1APID = decode24(ie.Value)
		case S1APIEMMEUES1APID:
			if len(ie.Value) >= 4 {
				msg.MMEUES1APID = binary.BigEndian.Uint32(ie.Value)
			}
		case S1APIENASPDU:
			msg.NASPDU = ie.Value
		case S1APIETAI:
			if tai, ok:= DecodeTAI(ie.Value); ok {
				msg.TAI = tai
			}
		case S1APIEEUTRANCGI:
			if cgi, ok:= DecodeEUTRANCGI(ie.Value); ok {
				msg.CGI = cgi
			}
		case S1APIEUESecurityCapabilities:
			msg.UESecurityCapabilities = ie.Value
		case S1APIEERABToBeSetupList:
			msg.ERABsToSetup = decodeERABsToSetup(ie.Value)
		case S1APIEERABSetupList:
			msg.ERABsSetup = decodeERABsSetup(ie.Value)
		case S1APIECause:
			msg.Cause = ie.Value
		case S1APIERRCEstablishmentCause:
			if len(ie.Value) >= 1 {
				msg.RRCEstablishmentCause = ie.Value[0]
			}
		}
	}
	return msg, nil
}

// decode24 decodes a 24-bit big-endian integer (eNB-UE-S1AP-ID).
func decode24(b []byte) uint32 {
	if len(b) < 3 {
		return 0
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// decodeERABsToSetup decodes a count-prefixed list of E-RAB-To-Be-Setup-Item
// entries: 1-byte ERAB-ID, 1-byte QCI, 4-byte transport IPv4, 4-byte TEID,
// a length-determinant-prefixed optional embedded NAS/ESM message.
func decodeERABsToSetup(value []byte) []ERABToBeSetup {
	if len(value) < 1 {
		return nil
	}
	count:= int(value[0])
	pos:= 1
	var out []ERABToBeSetup
	for i:= 0; i < count && pos+10 <= len(value); i++ {
		item:= ERABToBeSetup{
			ERABID: value[pos],
			QCI: value[pos+1],
			TransportIP: net.IP(append([]byte(nil), value[pos+2:pos+6]...)),
			TEID: binary.BigEndian.Uint32(value[pos+6: pos+10]),
		}
		pos += 10
		nasLen, n, err:= decodeLengthDeterminant(value, pos)
		if err != nil {
			out = append(out, item)
			break
		}
		pos += n
		end:= pos + nasLen
		if end > len(value) {
			end = len(value)
		}
		item.NASESM = value[pos:end]
		pos = end
		out = append(out, item)
	}
	return out
}

// decodeERABsSetup decodes a count-prefixed list of E-RAB-Setup-Item
// entries: 1-byte ERAB-ID, 4-byte transport IPv4, 4-byte TEID.
func decodeERABsSetup(value []byte) []ERABSetup {
	if len(value) < 1 {
		return nil
	}
	count:= int(value[0])
	pos:= 1
	var out []ERABSetup
	for i:= 0; i < count && pos+9 <= len(value); i++ {
		out = append(out, ERABSetup{
			ERABID: value[pos],
			TransportIP: net.IP(append([]byte(nil), value[pos+1:pos+5]...)),
			TEID: binary.BigEndian.Uint32(value[pos+5: pos+9]),
		})
		pos += 9
	}
	return out
}

package ran

import "encoding/binary"

// X2AP procedure codes relevant to handover tracking (3GPP TS 36.423 §9.3.8).
const (
	X2APProcHandoverPreparation uint8 = 0
	X2APProcSNStatusTransfer uint8 = 3
	X2APProcUEContextRelease uint8 = 1
)

// X2AP IE identifiers decoded by this package.
const (
	X2APIEOldENBUEX2APID uint16 = 0
	X2APIENewENBUEX2APID uint16 = 1
	X2APIECause uint16 = 2
	X2APIETargetCellID uint16 = 11
	X2APIEGTPTEID uint16 = 20
)

// X2APMessage is a decoded X2AP PDU.
type X2APMessage struct {
	PDU *PDU
	OldENBUEX2APID uint16
	NewENBUEX2APID uint16
	Cause []byte
	TargetCellID EUTRANCGI
	TEID uint32
}

// ProbeX2AP heuristically identifies X2AP framing.
func ProbeX2AP(data []byte) bool {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return false
	}
	return pdu.Type <= PDUUnsuccessful
}

// ParseX2AP decodes an X2AP PDU and the IEs the handover detector needs.
func ParseX2AP(data []byte) (*X2APMessage, error) {
	pdu, err:= DecodePDU(data)
	if err != nil {
		return nil, err
	}
	msg:= &X2APMessage{PDU: pdu}
	for _, ie:= range pdu.IEs {
		switch ie.ID {
		case X2APIEOldENBUEX2APID:
			if len(ie.Value) >= 2 {
				msg.OldENBUEX2APID = binary.BigEndian.Uint16(ie.Value)
			}
		case X2APIENewENBUEX2APID:
			if len(ie.Value) >= 2 {
				msg.NewENBUEX2APID = binary.BigEndian.Uint16(ie.Value)
			}
		case X2APIECause:
			msg.Cause = ie.Value
		case X2APIETargetCellID:
			if cgi, ok:= DecodeEUTRANCGI(ie.Value); ok {
				msg.TargetCellID = cgi
			}
		case X2APIEGTPTEID:
			if len(ie.Value) >= 4 {
				msg.TEID = binary.BigEndian.Uint32(ie.Value)
			}
		}
	}
	return msg, nil
}

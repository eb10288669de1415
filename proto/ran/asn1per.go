// Package ran implements the pragmatic ASN.1 PER decoder shared by the
// S1AP, NGAP, and X2AP message sets: a manual decoder targeting
// the common telecom PDU framing and IE set rather than full PER compliance.
package ran

import (
	"encoding/binary"

	"github.com/corepcap/mobilecore/perr"
)

// PDUType is the 3-way PDU choice every RAN-interface procedure uses:
// initiating message, successful outcome, unsuccessful outcome.
type PDUType uint8

const (
	PDUInitiating PDUType = 0
	PDUSuccessful PDUType = 1
	PDUUnsuccessful PDUType = 2
)

// Criticality is the per-IE/per-procedure criticality tag (reject/ignore/notify).
type Criticality uint8

const (
	CriticalityReject Criticality = 0
	CriticalityIgnore Criticality = 1
	CriticalityNotify Criticality = 2
)

// IE is one decoded protocolIEs SEQUENCE OF {id, criticality, value} entry.
type IE struct {
	ID uint16
	Criticality Criticality
	Value []byte
}

// PDU is the decoded {pdu_type, procedure_code, criticality, protocolIEs}
// framing common to S1AP/NGAP/X2AP.
type PDU struct {
	Type PDUType
	ProcedureCode uint8
	Criticality Criticality
	IEs []IE
}

// decodeLengthDeterminant reads an ASN.1 PER-style length determinant using
// short-form (<128, one byte) and long-form (two bytes, top two bits 0b10)
// encodings.
func decodeLengthDeterminant(data []byte, offset int) (length, consumed int, err error) {
	if offset >= len(data) {
		return 0, 0, perr.New(perr.TruncatedPacket, "ran.decodeLengthDeterminant", "missing length byte")
	}
	b0:= data[offset]
	if b0&0x80 == 0 {
		return int(b0), 1, nil
	}
	if b0&0xC0 == 0x80 {
		if offset+1 >= len(data) {
			return 0, 0, perr.New(perr.TruncatedPacket, "ran.decodeLengthDeterminant", "truncated long-form length")
		}
		length:= int(b0&0x3F)<<8 | int(data[offset+1])
		return length, 2, nil
	}
	return 0, 0, perr.New(perr.Unsupported, "ran.decodeLengthDeterminant", "fragmented PER length not supported")
}

// DecodePDU decodes the common PDU framing: pdu_type, procedure_code,
// criticality, then a length-prefixed protocolIEs container whose own
// length determinant precedes an IE count, then the IEs themselves.
func DecodePDU(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, perr.New(perr.TruncatedPacket, "ran.DecodePDU", "short PDU header")
	}
	pdu:= &PDU{
		Type: PDUType(data[0] >> 6),
		ProcedureCode: data[1],
		Criticality: Criticality(data[2] >> 6),
	}
	offset:= 3

	containerLen, n, err:= decodeLengthDeterminant(data, offset)
	if err != nil {
		return nil, err
	}
	offset += n
	end:= offset + containerLen
	if end > len(data) {
		end = len(data)
	}
	body:= data[offset:end]

	count, n, err:= decodeLengthDeterminant(body, 0)
	if err != nil {
		return nil, err
	}
	pos:= n
	for i:= 0; i < count; i++ {
		if pos+3 > len(body) {
			return pdu, perr.New(perr.TruncatedPacket, "ran.DecodePDU", "truncated IE header")
		}
		id:= binary.BigEndian.Uint16(body[pos: pos+2])
		crit:= Criticality(body[pos+2] >> 6)
		pos += 3
		valLen, n, err:= decodeLengthDeterminant(body, pos)
		if err != nil {
			return pdu, err
		}
		pos += n
		valEnd:= pos + valLen
		if valEnd > len(body) {
			return pdu, perr.New(perr.TruncatedPacket, "ran.DecodePDU", "truncated IE value")
		}
		pdu.IEs = append(pdu.IEs, IE{ID: id, Criticality: crit, Value: body[pos:valEnd]})
		pos = valEnd
	}
	return pdu, nil
}

// Find returns the first IE with the given id, if present.
func (p *PDU) Find(id uint16) (IE, bool) {
	for _, ie:= range p.IEs {
		if ie.ID == id {
			return ie, true
		}
	}
	return IE{}, false
}

// PLMN decodes a 3-byte PLMN BCD identity into MCC+MNC ASCII digits,
// handling both 2-digit and 3-digit MNC encodings via the filler nibble in
// the second octet's high bits (3GPP TS 24.008 §10.5.1.3).
func PLMN(b []byte) (mcc, mnc string, ok bool) {
	if len(b) < 3 {
		return "", "", false
	}
	mccDigits:= []byte{
		'0' + b[0]&0x0F,
		'0' + b[0]>>4,
		'0' + b[1]&0x0F,
	}
	mncThird:= b[1] >> 4
	mncDigits:= []byte{'0' + b[2]&0x0F, '0' + b[2]>>4}
	if mncThird != 0x0F {
		mncDigits = append(mncDigits, '0'+mncThird)
	}
	return string(mccDigits), string(mncDigits), true
}

// TAI is a decoded Tracking Area Identity: PLMN + 16-bit TAC.
type TAI struct {
	MCC, MNC string
	TAC uint16
}

// DecodeTAI decodes a 5-byte TAI IE value: 3-byte PLMN BCD + 2-byte TAC.
func DecodeTAI(value []byte) (TAI, bool) {
	if len(value) < 5 {
		return TAI{}, false
	}
	mcc, mnc, ok:= PLMN(value[0:3])
	if !ok {
		return TAI{}, false
	}
	return TAI{MCC: mcc, MNC: mnc, TAC: binary.BigEndian.Uint16(value[3:5])}, true
}

// EUTRANCGI is a decoded E-UTRAN Cell Global Identity: PLMN + 28-bit cell id.
type EUTRANCGI struct {
	MCC, MNC string
	CellID uint32
}

// DecodeEUTRANCGI decodes a 7-byte CGI IE value: 3-byte PLMN BCD + 28-bit
// cell id packed into the high bits of a 4-byte field.
func DecodeEUTRANCGI(value []byte) (EUTRANCGI, bool) {
	if len(value) < 7 {
		return EUTRANCGI{}, false
	}
	mcc, mnc, ok:= PLMN(value[0:3])
	if !ok {
		return EUTRANCGI{}, false
	}
	raw:= binary.BigEndian.Uint32(value[3:7])
	return EUTRANCGI{MCC: mcc, MNC: mnc, CellID: raw >> 4}, true
}

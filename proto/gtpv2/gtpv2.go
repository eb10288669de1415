// Package gtpv2 parses GTPv2-C control-plane messages, the
// protocol the tunnel manager (C11) drives its state machine from.
package gtpv2

import (
	"encoding/binary"
	"net"

	"github.com/corepcap/mobilecore/perr"
)

// GTPv2-C message types relevant to the tunnel manager.
const (
	MsgCreateSessionRequest uint8 = 32
	MsgCreateSessionResponse uint8 = 33
	MsgModifyBearerRequest uint8 = 34
	MsgModifyBearerResponse uint8 = 35
	MsgDeleteSessionRequest uint8 = 36
	MsgDeleteSessionResponse uint8 = 37
	MsgEchoRequest uint8 = 1
	MsgEchoResponse uint8 = 2
)

// IE types (3GPP TS 29.274 §8).
const (
	ieIMSI uint8 = 1
	ieCause uint8 = 2
	ieAPN uint8 = 71
	ieEBI uint8 = 73
	ieIPAddress uint8 = 74
	ieMSISDN uint8 = 76
	iePDNType uint8 = 99
	iePAA uint8 = 79
	ieRATType uint8 = 82
	ieFTEID uint8 = 87
	ieBearerContext uint8 = 93
)

const maxIENestingDepth = 5

// IE is one raw information element.
type IE struct {
	Type uint8
	Instance uint8
	Value []byte
}

// FTEID is a decoded Fully Qualified TEID IE.
type FTEID struct {
	InterfaceType uint8
	TEID uint32
	IPv4 net.IP
	IPv6 net.IP
}

// BearerContext is one decoded Bearer Context grouped IE.
type BearerContext struct {
	EBI uint8
	FTEIDs []FTEID
}

// Message is a parsed GTPv2-C message.
type Message struct {
	MessageType uint8
	TEID uint32
	HasTEID bool
	SequenceNum uint32

	IMSI string
	APN string
	MSISDN string
	PDNType uint8
	RATType uint8
	Cause uint8
	PAA net.IP
	FTEIDs []FTEID
	BearerContexts []BearerContext
}

// Probe reports whether data's version field looks like GTPv2.
func Probe(data []byte) bool {
	if len(data) < 1 {
		return false
	}
	version:= data[0] >> 5
	return version == 2
}

// Parse decodes a GTPv2-C message header and its top-level IEs.
func Parse(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, perr.New(perr.TruncatedPacket, "gtpv2.Parse", "short GTPv2 header")
	}
	flags:= data[0]
	hasTEID:= flags&0x08 != 0
	msgType:= data[1]
	msgLen:= int(binary.BigEndian.Uint16(data[2:4]))

	offset:= 4
	msg:= &Message{MessageType: msgType, HasTEID: hasTEID}

	if hasTEID {
		if len(data) < offset+4 {
			return nil, perr.New(perr.TruncatedPacket, "gtpv2.Parse", "truncated TEID")
		}
		msg.TEID = binary.BigEndian.Uint32(data[offset: offset+4])
		offset += 4
	}

	if len(data) < offset+4 {
		return nil, perr.New(perr.TruncatedPacket, "gtpv2.Parse", "truncated sequence number")
	}
	msg.SequenceNum = uint32(data[offset])<<16 | uint32(data[offset+1])<<8 | uint32(data[offset+2])
	offset += 4 // sequence number (3 bytes) + spare (1 byte)

	end:= 4 + msgLen
	if end > len(data) {
		end = len(data)
	}
	ies, err:= parseIEs(data[offset:end], 0)
	if err != nil {
		return nil, err
	}
	applyIEs(msg, ies)
	return msg, nil
}

func parseIEs(data []byte, depth int) ([]IE, error) {
	if depth > maxIENestingDepth {
		return nil, perr.New(perr.Sanity, "gtpv2.parseIEs", "IE nesting too deep")
	}
	var ies []IE
	offset:= 0
	for offset+4 <= len(data) {
		typ:= data[offset]
		length:= int(binary.BigEndian.Uint16(data[offset+1: offset+3]))
		instance:= data[offset+3] & 0x0F
		valStart:= offset + 4
		valEnd:= valStart + length
		if valEnd > len(data) {
			return ies, perr.New(perr.TruncatedPacket, "gtpv2.parseIEs", "truncated IE value")
		}
		ies = append(ies, IE{Type: typ, Instance: instance, Value: data[valStart:valEnd]})
		offset = valEnd
	}
	return ies, nil
}

func applyIEs(msg *Message, ies []IE) {
	for _, ie:= range ies {
		switch ie.Type {
		case ieIMSI:
			msg.IMSI = decodeBCDDigits(ie.Value)
		case ieMSISDN:
			msg.MSISDN = decodeBCDDigits(ie.Value)
		case ieAPN:
			msg.APN = decodeAPN(ie.Value)
		case ieCause:
			if len(ie.Value) >= 1 {
				msg.Cause = ie.Value[0]
			}
		case iePDNType:
			if len(ie.Value) >= 1 {
				msg.PDNType = ie.Value[0] & 0x07
			}
		case iePAA:
			// Byte 0's low 3 bits are the PDN type: 1 = IPv4 (4 address bytes
			// follow), 2 = IPv6 (prefix length, then 16 address bytes).
			switch {
			case len(ie.Value) >= 5 && ie.Value[0]&0x07 == 1:
				msg.PAA = decodeIPBytes(ie.Value[1:5])
			case len(ie.Value) >= 18 && ie.Value[0]&0x07 == 2:
				msg.PAA = decodeIPBytes(ie.Value[2:18])
			}
		case ieRATType:
			if len(ie.Value) >= 1 {
				msg.RATType = ie.Value[0]
			}
		case ieFTEID:
			if f, ok:= decodeFTEID(ie.Value); ok {
				msg.FTEIDs = append(msg.FTEIDs, f)
			}
		case ieIPAddress:
			msg.PAA = decodeIPBytes(ie.Value)
		case ieBearerContext:
			nested, err:= parseIEs(ie.Value, 1)
			if err == nil {
				msg.BearerContexts = append(msg.BearerContexts, decodeBearerContext(nested))
			}
		}
	}
}

func decodeBearerContext(ies []IE) BearerContext {
	var bc BearerContext
	for _, ie:= range ies {
		switch ie.Type {
		case ieEBI:
			if len(ie.Value) >= 1 {
				bc.EBI = ie.Value[0]
			}
		case ieFTEID:
			if f, ok:= decodeFTEID(ie.Value); ok {
				bc.FTEIDs = append(bc.FTEIDs, f)
			}
		}
	}
	return bc
}

// decodeFTEID decodes a Fully Qualified TEID IE: 1 flag byte (bit7=V4
// present, bit6=V6 present, bits5-0=interface type), 4-byte TEID, optional
// 4-byte IPv4, optional 16-byte IPv6 (3GPP TS 29.274 §8.22).
func decodeFTEID(value []byte) (FTEID, bool) {
	if len(value) < 5 {
		return FTEID{}, false
	}
	flags:= value[0]
	hasV4:= flags&0x80 != 0
	hasV6:= flags&0x40 != 0
	interfaceType:= flags & 0x3F
	teid:= binary.BigEndian.Uint32(value[1:5])

	f:= FTEID{InterfaceType: interfaceType, TEID: teid}
	offset:= 5
	if hasV4 {
		if len(value) < offset+4 {
			return FTEID{}, false
		}
		f.IPv4 = net.IP(append([]byte(nil), value[offset:offset+4]...))
		offset += 4
	}
	if hasV6 {
		if len(value) < offset+16 {
			return FTEID{}, false
		}
		f.IPv6 = net.IP(append([]byte(nil), value[offset:offset+16]...))
	}
	return f, true
}

func decodeIPBytes(value []byte) net.IP {
	switch len(value) {
	case 4, 16:
		return net.IP(append([]byte(nil), value...))
	default:
		return nil
	}
}

// decodeBCDDigits decodes a TBCD-encoded digit string (IMSI/MSISDN), where
// 0xF is a filler nibble trimmed from the end (3GPP TS 29.274, TS 23.003).
func decodeBCDDigits(value []byte) string {
	digits:= make([]byte, 0, len(value)*2)
	for _, b:= range value {
		lo:= b & 0x0F
		hi:= b >> 4
		if lo <= 9 {
			digits = append(digits, '0'+lo)
		}
		if hi <= 9 {
			digits = append(digits, '0'+hi)
		}
	}
	return string(digits)
}

// decodeAPN decodes a DNS-label-encoded APN: each label is prefixed by its
// length byte (3GPP TS 23.003 §9.1).
func decodeAPN(value []byte) string {
	var out []byte
	i:= 0
	for i < len(value) {
		labelLen:= int(value[i])
		i++
		if i+labelLen > len(value) {
			break
		}
		if len(out) > 0 {
			out = append(out, '.')
		}
		out = append(out, value[i:i+labelLen]...)
		i += labelLen
	}
	return string(out)
}

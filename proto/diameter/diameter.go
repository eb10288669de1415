// Package diameter implements minimal Diameter framing: the
// fixed 20-byte header and the AVP set the session correlator and the
// Diameter dialog child session need.
package diameter

import (
	"encoding/binary"

	"github.com/corepcap/mobilecore/perr"
)

// Command codes relevant to the dialog state machine: Credit
// Control (Gx/Gy), AA (Rx), Server-Assignment (Cx) and Update-Location
// (S6a) all share the same CCR/CCA-style request/answer pairing.
const (
	CmdCreditControl uint32 = 272 // CCR/CCA
	CmdAuthAuthorization uint32 = 265 // AAR/AAA (Rx)
	CmdServerAssignment uint32 = 301 // SAR/SAA (Cx)
	CmdUpdateLocation uint32 = 316 // ULR/ULA (S6a)
)

// AVP codes extracted by this package.
const (
	AVPSessionID uint32 = 263
	AVPOriginHost uint32 = 264
	AVPOriginRealm uint32 = 296
	AVPDestinationHost uint32 = 293
	AVPDestinationRealm uint32 = 283
	AVPSubscriptionID uint32 = 443
	AVPSubscriptionIDType uint32 = 450
	AVPSubscriptionIDData uint32 = 444
	AVPUserName uint32 = 1
	AVPCalledStationID uint32 = 30
)

// SubscriptionIDType values (RFC 4006 §8.47).
const (
	SubscriptionIDTypeMSISDN uint32 = 0
	SubscriptionIDTypeIMSI uint32 = 1
)

const avpFlagVendor = 0x80

const maxAVPNestingDepth = 5

// AVP is one decoded attribute-value pair; grouped AVPs carry their
// children in Grouped rather than Value.
type AVP struct {
	Code uint32
	VendorID uint32
	Mandatory bool
	Protected bool
	Value []byte
	Grouped []AVP
}

// SubscriptionID is a decoded Subscription-Id grouped AVP.
type SubscriptionID struct {
	Type uint32
	Data string
}

// Message is a parsed Diameter message.
type Message struct {
	Version uint8
	Length uint32
	Flags uint8
	IsRequest bool
	CommandCode uint32
	ApplicationID uint32
	HopByHopID uint32
	EndToEndID uint32
	AVPs []AVP

	SessionID string
	OriginHost string
	OriginRealm string
	DestinationHost string
	DestinationRealm string
	SubscriptionIDs []SubscriptionID
	UserName string
	CalledStationID string
}

const flagRequest = 0x80

// Probe reports whether data's fixed header looks like Diameter version 1
// with a consistent declared length.
func Probe(data []byte) bool {
	if len(data) < 20 {
		return false
	}
	if data[0] != 1 {
		return false
	}
	length:= uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return length >= 20
}

// Parse decodes the fixed 20-byte Diameter header and its top-level AVPs.
func Parse(data []byte) (*Message, error) {
	if len(data) < 20 {
		return nil, perr.New(perr.TruncatedPacket, "diameter.Parse", "short Diameter header")
	}
	if data[0] != 1 {
		return nil, perr.New(perr.Malformed, "diameter.Parse", "unsupported Diameter version")
	}
	length:= uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	flags:= data[4]
	cmdCode:= uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	appID:= binary.BigEndian.Uint32(data[8:12])
	hbh:= binary.BigEndian.Uint32(data[12:16])
	e2e:= binary.BigEndian.Uint32(data[16:20])

	msg:= &Message{
		Version: 1,
		Length: length,
		Flags: flags,
		IsRequest: flags&flagRequest != 0,
		CommandCode: cmdCode,
		ApplicationID: appID,
		HopByHopID: hbh,
		EndToEndID: e2e,
	}

	end:= int(length)
	if end > len(data) {
		end = len(data)
	}
	avps, err:= parseAVPs(data[20:end], 0)
	if err != nil {
		return msg, err
	}
	msg.AVPs = avps
	applyAVPs(msg, avps)
	return msg, nil
}

// parseAVPs decodes a sequence of AVPs: 4-byte code, 1-byte flags, 3-byte
// length (includes header), optional 4-byte vendor id, value padded to a
// 4-byte boundary (RFC 6733 §4).
func parseAVPs(data []byte, depth int) ([]AVP, error) {
	if depth > maxAVPNestingDepth {
		return nil, perr.New(perr.Sanity, "diameter.parseAVPs", "AVP nesting too deep")
	}
	var avps []AVP
	offset:= 0
	for offset+8 <= len(data) {
		code:= binary.BigEndian.Uint32(data[offset: offset+4])
		flags:= data[offset+4]
		length:= int(data[offset+5])<<16 | int(data[offset+6])<<8 | int(data[offset+7])
		if length < 8 {
			return avps, perr.New(perr.Malformed, "diameter.parseAVPs", "AVP length too small")
		}
		hdrLen:= 8
		avp:= AVP{Code: code, Mandatory: flags&0x40 != 0, Protected: flags&0x20 != 0}
		pos:= offset + hdrLen
		if flags&avpFlagVendor != 0 {
			if pos+4 > len(data) {
				return avps, perr.New(perr.TruncatedPacket, "diameter.parseAVPs", "truncated vendor id")
			}
			avp.VendorID = binary.BigEndian.Uint32(data[pos: pos+4])
			pos += 4
			hdrLen += 4
		}
		valEnd:= offset + length
		if valEnd > len(data) {
			return avps, perr.New(perr.TruncatedPacket, "diameter.parseAVPs", "truncated AVP value")
		}
		avp.Value = data[pos:valEnd]

		if isGroupedAVP(code) {
			if nested, err:= parseAVPs(avp.Value, depth+1); err == nil {
				avp.Grouped = nested
			}
		}

		avps = append(avps, avp)
		// Advance past padding to the next 4-byte boundary.
		offset = valEnd
		if pad:= offset % 4; pad != 0 {
			offset += 4 - pad
		}
	}
	return avps, nil
}

func isGroupedAVP(code uint32) bool {
	return code == AVPSubscriptionID
}

func applyAVPs(msg *Message, avps []AVP) {
	for _, avp:= range avps {
		switch avp.Code {
		case AVPSessionID:
			msg.SessionID = string(avp.Value)
		case AVPOriginHost:
			msg.OriginHost = string(avp.Value)
		case AVPOriginRealm:
			msg.OriginRealm = string(avp.Value)
		case AVPDestinationHost:
			msg.DestinationHost = string(avp.Value)
		case AVPDestinationRealm:
			msg.DestinationRealm = string(avp.Value)
		case AVPUserName:
			msg.UserName = string(avp.Value)
		case AVPCalledStationID:
			msg.CalledStationID = string(avp.Value)
		case AVPSubscriptionID:
			if sid, ok:= decodeSubscriptionID(avp.Grouped); ok {
				msg.SubscriptionIDs = append(msg.SubscriptionIDs, sid)
			}
		}
	}
}

func decodeSubscriptionID(avps []AVP) (SubscriptionID, bool) {
	var sid SubscriptionID
	found:= false
	for _, avp:= range avps {
		switch avp.Code {
		case AVPSubscriptionIDType:
			if len(avp.Value) >= 4 {
				sid.Type = binary.BigEndian.Uint32(avp.Value)
				found = true
			}
		case AVPSubscriptionIDData:
			sid.Data = string(avp.Value)
			found = true
		}
	}
	return sid, found
}

// MSISDN returns the first MSISDN-typed Subscription-Id, if any.
func (m *Message) MSISDN() (string, bool) {
	for _, s:= range m.SubscriptionIDs {
		if s.Type == SubscriptionIDTypeMSISDN {
			return s.Data, true
		}
	}
	return "", false
}

// IMSI returns the first IMSI-typed Subscription-Id, if any.
func (m *Message) IMSI() (string, bool) {
	for _, s:= range m.SubscriptionIDs {
		if s.Type == SubscriptionIDTypeIMSI {
			return s.Data, true
		}
	}
	return "", false
}

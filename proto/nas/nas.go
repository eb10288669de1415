// Package nas parses the LTE and 5G Non-Access-Stratum messages carried
// opaquely inside S1AP/NGAP NAS-PDU IEs. Ciphered payloads are
// never decrypted; they are surfaced with Protected set and their bytes
// passed through unparsed in Opaque.
package nas

import (
	"fmt"

	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/proto/ran"
)

// SecurityHeaderType is the 4-bit NAS security header (TS 24.007 §11.2.3.1.1).
type SecurityHeaderType uint8

const (
	SecurityHeaderPlain SecurityHeaderType = 0
	SecurityHeaderIntegrityProtected SecurityHeaderType = 1
	SecurityHeaderIntegrityAndCiphered SecurityHeaderType = 2
	SecurityHeaderIntegrityNewContext SecurityHeaderType = 3
	SecurityHeaderIntegrityCipheredNew SecurityHeaderType = 4
	SecurityHeaderServiceRequest SecurityHeaderType = 12
)

// ProtocolDiscriminator distinguishes EMM/ESM (LTE) from 5GMM/5GSM (5G)
// messages. 5G NAS uses an "extended" protocol discriminator that occupies
// the whole first octet rather than a 4-bit nibble (TS 24.007 §11.2.3.1.1);
// this package carries the byte as-is and compares against these constants.
type ProtocolDiscriminator uint8

const (
	PDEPSMobilityManagement ProtocolDiscriminator = 0x07
	PDEPSSessionManagement ProtocolDiscriminator = 0x02
	PD5GMobilityManagement ProtocolDiscriminator = 0x7E
	PD5GSessionManagement ProtocolDiscriminator = 0x2E
)

// Mobile identity types (TS 24.008 §10.5.1.4, TS 24.501 §9.11.3.4).
const (
	IdentityIMSI uint8 = 1
	IdentityIMEI uint8 = 2
	IdentityIMEISV uint8 = 3
	IdentityTMSI uint8 = 4
	IdentityGUTI uint8 = 6
	Identity5GGUTI uint8 = 2
	Identity5GSUCI uint8 = 1
	Identity5GSTMSI uint8 = 4
)

// Information element identifiers decoded by this package.
const (
	ieMobileIdentity uint8 = 0x23
	ieAPN uint8 = 0x28
	ieDNN uint8 = 0x25
	iePDNType uint8 = 0x5A
	ieEPSBearerID uint8 = 0x5D
	ieSNSSAI uint8 = 0x22
	iePDUSessionID uint8 = 0x12
	ieESMCause uint8 = 0x58
)

// MobileIdentity is a decoded identity, either BCD-digit based (IMSI/IMEI/
// GUTI) or, for 5G, the SUCI/5G-GUTI/5G-S-TMSI variants.
type MobileIdentity struct {
	Type uint8
	Digits string // populated for BCD-digit identities (IMSI/IMEI/GUTI)
	Raw []byte // populated for opaque identities (TMSI/5G-GUTI/5G-S-TMSI)
}

// Message is a decoded NAS message.
type Message struct {
	SecurityHeader SecurityHeaderType
	Discriminator ProtocolDiscriminator
	MessageType uint8
	Protected bool
	Opaque []byte

	Identities []MobileIdentity
	APN string
	DNN string
	PDNType uint8
	EPSBearerID uint8
	SNSSAI string
	PDUSessionID uint8
	ESMCause uint8
}

// Probe reports whether data looks like a NAS message: byte 0 is one of
// the recognized (extended) protocol discriminators.
func Probe(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	pd:= ProtocolDiscriminator(data[0])
	switch pd {
	case PDEPSMobilityManagement, PDEPSSessionManagement, PD5GMobilityManagement, PD5GSessionManagement:
		return true
	default:
		return false
	}
}

// Parse decodes the NAS security header, and — only for plain messages —
// the message type and known information elements. Integrity-protected-
// and-ciphered payloads are carried through opaquely.
//
// Wire layout (pragmatic): byte 0 is the extended protocol
// discriminator; byte 1's low nibble is the security header type (its high
// nibble carries the EPS bearer id for ESM messages, unused here); for
// plain messages byte 2 is the message type and the information elements
// follow as tag-length-value.
func Parse(data []byte) (*Message, error) {
	if len(data) < 3 {
		return nil, perr.New(perr.TruncatedPacket, "nas.Parse", "short NAS header")
	}
	pd:= ProtocolDiscriminator(data[0])
	secHdr:= SecurityHeaderType(data[1] & 0x0F)

	msg:= &Message{SecurityHeader: secHdr, Discriminator: pd}

	if secHdr != SecurityHeaderPlain {
		msg.Protected = true
		msg.Opaque = data
		return msg, nil
	}

	msg.MessageType = data[2]
	ies, err:= parseTLVIEs(data[3:])
	if err != nil {
		return msg, err
	}
	applyIEs(msg, ies)
	return msg, nil
}

type tlvIE struct {
	Tag uint8
	Value []byte
}

// parseTLVIEs decodes a sequence of tag-length-value information elements;
// this is the pragmatic subset sufficient for the IEs this package decodes,
// not the full 24.008/24.501 optional-IE grammar (some of which is tag-only
// with no explicit length).
func parseTLVIEs(data []byte) ([]tlvIE, error) {
	var ies []tlvIE
	offset:= 0
	for offset+2 <= len(data) {
		tag:= data[offset]
		length:= int(data[offset+1])
		valStart:= offset + 2
		valEnd:= valStart + length
		if valEnd > len(data) {
			return ies, perr.New(perr.TruncatedPacket, "nas.parseTLVIEs", "truncated IE")
		}
		ies = append(ies, tlvIE{Tag: tag, Value: data[valStart:valEnd]})
		offset = valEnd
	}
	return ies, nil
}

func applyIEs(msg *Message, ies []tlvIE) {
	for _, ie:= range ies {
		switch ie.Tag {
		case ieMobileIdentity:
			is5G:= msg.Discriminator == PD5GMobilityManagement
			if id, ok:= decodeMobileIdentity(ie.Value, is5G); ok {
				msg.Identities = append(msg.Identities, id)
			}
		case ieAPN:
			msg.APN = decodeAPNLabels(ie.Value)
		case ieDNN:
			msg.DNN = decodeAPNLabels(ie.Value)
		case iePDNType:
			if len(ie.Value) >= 1 {
				msg.PDNType = ie.Value[0] & 0x07
			}
		case ieEPSBearerID:
			if len(ie.Value) >= 1 {
				msg.EPSBearerID = ie.Value[0] & 0x0F
			}
		case ieSNSSAI:
			msg.SNSSAI = decodeSNSSAI(ie.Value)
		case iePDUSessionID:
			if len(ie.Value) >= 1 {
				msg.PDUSessionID = ie.Value[0]
			}
		case ieESMCause:
			if len(ie.Value) >= 1 {
				msg.ESMCause = ie.Value[0]
			}
		}
	}
}

// decodeMobileIdentity decodes a TS 24.008/24.501 Mobile Identity IE. Byte 0
// carries the identity type in bits 1-3 and the odd/even digit-count flag
// in bit 4; for BCD-digit identities the high nibble of byte 0 is the first
// digit. The 5G identity type space reuses the same low bits
// for a different meaning (e.g. type 1 is SUCI, not IMSI), so the caller's
// protocol discriminator picks which table applies.
func decodeMobileIdentity(value []byte, is5G bool) (MobileIdentity, bool) {
	if len(value) < 1 {
		return MobileIdentity{}, false
	}
	typ:= value[0] & 0x07

	if is5G {
		switch typ {
		case Identity5GSUCI:
			if _, _, suci, ok:= decodeSUCI(value[1:]); ok {
				return MobileIdentity{Type: typ, Digits: suci}, true
			}
			return MobileIdentity{Type: typ, Raw: append([]byte(nil), value...)}, true
		default:
			return MobileIdentity{Type: typ, Raw: append([]byte(nil), value...)}, true
		}
	}

	oddCount:= value[0]&0x08 != 0
	switch typ {
	case IdentityIMSI, IdentityIMEI, IdentityIMEISV:
		digits:= []byte{'0' + value[0]>>4}
		for i:= 1; i < len(value); i++ {
			lo:= value[i] & 0x0F
			hi:= value[i] >> 4
			digits = append(digits, '0'+lo)
			if i < len(value)-1 || oddCount {
				digits = append(digits, '0'+hi)
			}
		}
		return MobileIdentity{Type: typ, Digits: string(digits)}, true
	default:
		return MobileIdentity{Type: typ, Raw: append([]byte(nil), value...)}, true
	}
}

// decodeSUCI decodes a 5G SUCI Mobile Identity value: PLMN + routing
// indicator + protection scheme id + home network public key id + scheme
// output (TS 24.501 §9.11.3.4). It is exposed separately from
// decodeMobileIdentity because SUCI has no BCD digit-string shape.
func decodeSUCI(value []byte) (mcc, mnc, suci string, ok bool) {
	if len(value) < 6 {
		return "", "", "", false
	}
	mcc, mnc, ok = ran.PLMN(value[0:3])
	if !ok {
		return "", "", "", false
	}
	schemeOutput:= value[5:]
	return mcc, mnc, fmt.Sprintf("suci-0-%s-%s-%x", mcc, mnc, schemeOutput), true
}

// decodeAPNLabels decodes a DNS-label-encoded APN/DNN value, matching the
// wire shape gtpv2.decodeAPN handles for GTPv2 (TS 23.003 §9.1).
func decodeAPNLabels(value []byte) string {
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

// decodeSNSSAI decodes an S-NSSAI value: 1-byte SST, optional 3-byte SD
// (TS 24.501 §9.11.2.8).
func decodeSNSSAI(value []byte) string {
	if len(value) < 1 {
		return ""
	}
	if len(value) >= 4 {
		return fmt.Sprintf("sst=%d,sd=%06x", value[0], value[1:4])
	}
	return fmt.Sprintf("sst=%d", value[0])
}

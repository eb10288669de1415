// Package rtp parses RTP and RTCP packets and tracks per-SSRC stream
// statistics.
package rtp

import (
	"encoding/binary"

	"github.com/corepcap/mobilecore/perr"
)

// RTCP payload types.
const (
	rtcpSR = 200
	rtcpRR = 201
	rtcpSDES = 202
	rtcpBYE = 203
	rtcpAPP = 204
)

// Packet is a parsed RTP packet.
type Packet struct {
	Version uint8
	Padding bool
	Extension bool
	CSRCCount uint8
	Marker bool
	PayloadType uint8
	SequenceNumber uint16
	Timestamp uint32
	SSRC uint32
	Payload []byte
}

// RTCPPacket is a parsed RTCP packet's common header, identified by type.
type RTCPPacket struct {
	Version uint8
	PacketType uint8
	Length uint16
	SSRC uint32
	Payload []byte
}

// ProbeRTP reports whether data looks like an RTP packet: version 2 and a
// payload type that doesn't collide with the RTCP range.
func ProbeRTP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	version:= data[0] >> 6
	pt:= data[1] & 0x7F
	return version == 2 && pt <= 95 && (data[1] < rtcpSR || data[1] > rtcpAPP)
}

// ProbeRTCP reports whether data looks like an RTCP packet by payload type.
func ProbeRTCP(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	version:= data[0] >> 6
	pt:= data[1]
	return version == 2 && pt >= rtcpSR && pt <= rtcpBYE+1
}

// ParseRTP decodes an RTP header and payload.
func ParseRTP(data []byte) (*Packet, error) {
	if len(data) < 12 {
		return nil, perr.New(perr.TruncatedPacket, "rtp.ParseRTP", "short RTP header")
	}
	version:= data[0] >> 6
	if version != 2 {
		return nil, perr.New(perr.Malformed, "rtp.ParseRTP", "unsupported RTP version")
	}
	padding:= data[0]&0x20 != 0
	extension:= data[0]&0x10 != 0
	csrcCount:= data[0] & 0x0F
	marker:= data[1]&0x80 != 0
	pt:= data[1] & 0x7F

	headerLen:= 12 + int(csrcCount)*4
	if len(data) < headerLen {
		return nil, perr.New(perr.TruncatedPacket, "rtp.ParseRTP", "truncated CSRC list")
	}
	if extension {
		if len(data) < headerLen+4 {
			return nil, perr.New(perr.TruncatedPacket, "rtp.ParseRTP", "truncated extension header")
		}
		extLen:= int(binary.BigEndian.Uint16(data[headerLen+2: headerLen+4]))
		headerLen += 4 + extLen*4
		if len(data) < headerLen {
			return nil, perr.New(perr.TruncatedPacket, "rtp.ParseRTP", "truncated extension body")
		}
	}

	return &Packet{
		Version: version,
		Padding: padding,
		Extension: extension,
		CSRCCount: csrcCount,
		Marker: marker,
		PayloadType: pt,
		SequenceNumber: binary.BigEndian.Uint16(data[2:4]),
		Timestamp: binary.BigEndian.Uint32(data[4:8]),
		SSRC: binary.BigEndian.Uint32(data[8:12]),
		Payload: data[headerLen:],
	}, nil
}

// ParseRTCP decodes the common RTCP header of the first packet in a
// (possibly compound) RTCP packet.
func ParseRTCP(data []byte) (*RTCPPacket, error) {
	if len(data) < 8 {
		return nil, perr.New(perr.TruncatedPacket, "rtp.ParseRTCP", "short RTCP header")
	}
	version:= data[0] >> 6
	if version != 2 {
		return nil, perr.New(perr.Malformed, "rtp.ParseRTCP", "unsupported RTCP version")
	}
	pt:= data[1]
	length:= binary.BigEndian.Uint16(data[2:4])
	ssrc:= binary.BigEndian.Uint32(data[4:8])

	end:= 4 + int(length+1)*4
	if end > len(data) {
		end = len(data)
	}

	return &RTCPPacket{
		Version: version,
		PacketType: pt,
		Length: length,
		SSRC: ssrc,
		Payload: data[8:end],
	}, nil
}

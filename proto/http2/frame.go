// Package http2 parses HTTP/2 framing and HPACK-encoded headers, tracking
// per-connection HPACK dynamic table state and per-stream request/response
// body accumulation for later 5G SBA analysis.
package http2

import (
	"encoding/binary"

	"github.com/corepcap/mobilecore/perr"
)

// ClientPreface is the 24-byte connection preface every HTTP/2 connection
// begins with.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Frame types (RFC 7540 §6).
const (
	FrameData uint8 = 0x0
	FrameHeaders uint8 = 0x1
	FramePriority uint8 = 0x2
	FrameRSTStream uint8 = 0x3
	FrameSettings uint8 = 0x4
	FramePushPromise uint8 = 0x5
	FramePing uint8 = 0x6
	FrameGoAway uint8 = 0x7
	FrameWindowUpdate uint8 = 0x8
	FrameContinuation uint8 = 0x9
)

// Frame flags relevant to header/body accumulation.
const (
	FlagEndStream uint8 = 0x1
	FlagEndHeaders uint8 = 0x4
	FlagPadded uint8 = 0x8
)

// FrameHeader is the 9-byte frame header common to every HTTP/2 frame.
type FrameHeader struct {
	Length uint32 // 24-bit
	Type uint8
	Flags uint8
	StreamID uint32 // 31-bit
}

const frameHeaderLen = 9

// ReadFrameHeader decodes one 9-byte frame header from the front of data.
func ReadFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < frameHeaderLen {
		return FrameHeader{}, perr.New(perr.TruncatedPacket, "http2.ReadFrameHeader", "short frame header")
	}
	length:= uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	streamID:= binary.BigEndian.Uint32(data[5:9]) & 0x7FFFFFFF
	return FrameHeader{
		Length: length,
		Type: data[3],
		Flags: data[4],
		StreamID: streamID,
	}, nil
}

// Frame is one decoded frame header plus its raw payload.
type Frame struct {
	Header FrameHeader
	Payload []byte
}

// SplitFrames walks a byte stream, yielding each complete frame it finds and
// the unconsumed remainder. It never blocks on a partial trailing frame;
// the caller is expected to retain the remainder across TCP segments.
func SplitFrames(data []byte) (frames []Frame, remainder []byte, err error) {
	for len(data) >= frameHeaderLen {
		hdr, herr:= ReadFrameHeader(data)
		if herr != nil {
			return frames, data, herr
		}
		total:= frameHeaderLen + int(hdr.Length)
		if len(data) < total {
			break
		}
		frames = append(frames, Frame{Header: hdr, Payload: data[frameHeaderLen:total]})
		data = data[total:]
	}
	return frames, data, nil
}

// stripPadding removes RFC 7540 §6.1/§6.2 frame padding when FlagPadded is
// set: the first byte is the pad length, and that many bytes trail the
// frame payload.
func stripPadding(flags uint8, payload []byte) ([]byte, error) {
	if flags&FlagPadded == 0 {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, perr.New(perr.TruncatedPacket, "http2.stripPadding", "missing pad length byte")
	}
	padLen:= int(payload[0])
	payload = payload[1:]
	if padLen > len(payload) {
		return nil, perr.New(perr.Malformed, "http2.stripPadding", "pad length exceeds frame")
	}
	return payload[:len(payload)-padLen], nil
}

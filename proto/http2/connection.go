package http2

import (
	"golang.org/x/net/http2/hpack"

	"github.com/corepcap/mobilecore/perr"
)

// Header is a decoded HTTP/2 header field.
type Header struct {
	Name string
	Value string
}

// Stream accumulates one HTTP/2 stream's request and response sides
// independently, since HEADERS direction (who sent the initial HEADERS
// frame) determines which body is which.
type Stream struct {
	ID uint32
	RequestHeaders []Header
	RequestBody []byte
	requestClosed bool
	ResponseHeaders []Header
	ResponseBody []byte
	responseClosed bool
}

// Direction distinguishes which side of a duplex connection a frame
// travelled, since the HPACK dynamic table is per direction.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
)

// Connection tracks one HTTP/2 connection's per-direction HPACK decoders
// and per-stream accumulation state. It is per-worker state: the
// dynamic table is never shared across connections or directions.
type Connection struct {
	streams map[uint32]*Stream
	requestDecoder *hpack.Decoder
	responseDecoder *hpack.Decoder

	pendingHeaderBlock []byte
	pendingStreamID uint32
	pendingDir Direction
	pendingEndStream bool
}

// NewConnection builds a Connection with fresh per-direction HPACK decoders.
func NewConnection() *Connection {
	c:= &Connection{streams: make(map[uint32]*Stream)}
	c.requestDecoder = hpack.NewDecoder(4096, nil)
	c.responseDecoder = hpack.NewDecoder(4096, nil)
	return c
}

func (c *Connection) streamFor(id uint32) *Stream {
	s:= c.streams[id]
	if s == nil {
		s = &Stream{ID: id}
		c.streams[id] = s
	}
	return s
}

// HandleFrame feeds one frame into the connection's state machine. It
// returns the Stream if this frame completed a header block or carried
// DATA for it, so the caller can react (e.g. SBA classification) as soon as
// data becomes available.
func (c *Connection) HandleFrame(dir Direction, f Frame) (*Stream, error) {
	switch f.Header.Type {
	case FrameHeaders:
		return c.handleHeadersStart(dir, f)
	case FrameContinuation:
		return c.handleContinuation(f)
	case FrameData:
		return c.handleData(dir, f)
	default:
		return nil, nil
	}
}

func (c *Connection) handleHeadersStart(dir Direction, f Frame) (*Stream, error) {
	payload, err:= stripPadding(f.Header.Flags, f.Payload)
	if err != nil {
		return nil, err
	}
	// Priority fields, if present, precede the header block fragment.
	if f.Header.Flags&0x20 != 0 { // PRIORITY flag
		if len(payload) < 5 {
			return nil, perr.New(perr.TruncatedPacket, "http2.handleHeadersStart", "truncated priority fields")
		}
		payload = payload[5:]
	}

	c.pendingHeaderBlock = append([]byte(nil), payload...)
	c.pendingStreamID = f.Header.StreamID
	c.pendingDir = dir
	c.pendingEndStream = f.Header.Flags&FlagEndStream != 0

	if f.Header.Flags&FlagEndHeaders != 0 {
		return c.finishHeaderBlock()
	}
	return nil, nil
}

func (c *Connection) handleContinuation(f Frame) (*Stream, error) {
	if c.pendingStreamID != f.Header.StreamID {
		return nil, perr.New(perr.StateViolation, "http2.handleContinuation", "CONTINUATION for unexpected stream")
	}
	c.pendingHeaderBlock = append(c.pendingHeaderBlock, f.Payload...)
	if f.Header.Flags&FlagEndHeaders != 0 {
		return c.finishHeaderBlock()
	}
	return nil, nil
}

func (c *Connection) finishHeaderBlock() (*Stream, error) {
	decoder:= c.requestDecoder
	if c.pendingDir == DirResponse {
		decoder = c.responseDecoder
	}

	var headers []Header
	decoder.SetEmitFunc(func(f hpack.HeaderField) {
		headers = append(headers, Header{Name: f.Name, Value: f.Value})
	})
	if _, err:= decoder.Write(c.pendingHeaderBlock); err != nil {
		return nil, perr.Wrap(perr.Malformed, "http2.finishHeaderBlock", err)
	}

	s:= c.streamFor(c.pendingStreamID)
	if c.pendingDir == DirRequest {
		s.RequestHeaders = headers
		if c.pendingEndStream {
			s.requestClosed = true
		}
	} else {
		s.ResponseHeaders = headers
		if c.pendingEndStream {
			s.responseClosed = true
		}
	}

	c.pendingHeaderBlock = nil
	return s, nil
}

func (c *Connection) handleData(dir Direction, f Frame) (*Stream, error) {
	payload, err:= stripPadding(f.Header.Flags, f.Payload)
	if err != nil {
		return nil, err
	}
	s:= c.streamFor(f.Header.StreamID)
	if dir == DirRequest {
		s.RequestBody = append(s.RequestBody, payload...)
		if f.Header.Flags&FlagEndStream != 0 {
			s.requestClosed = true
		}
	} else {
		s.ResponseBody = append(s.ResponseBody, payload...)
		if f.Header.Flags&FlagEndStream != 0 {
			s.responseClosed = true
		}
	}
	return s, nil
}

// Complete reports whether both sides of the stream have ended.
func (s *Stream) Complete() bool {
	return s.requestClosed && s.responseClosed
}

// HeaderValue returns the first value of name among headers, case-sensitive
// per HPACK's lowercase convention.
func HeaderValue(headers []Header, name string) (string, bool) {
	for _, h:= range headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

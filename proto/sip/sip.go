// Package sip parses SIP requests/responses and their SDP bodies,
// extracting the identifiers the session correlator and dynamic port
// tracker need.
package sip

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/corepcap/mobilecore/perr"
)

// compactHeaderNames canonicalizes SIP's single-letter compact header forms
// to their full names.
var compactHeaderNames = map[string]string{
	"i": "call-id",
	"f": "from",
	"t": "to",
	"v": "via",
	"m": "contact",
	"c": "content-type",
	"l": "content-length",
	"s": "subject",
	"k": "supported",
}

// Identity is a structured From/To/P-Asserted-Identity endpoint.
type Identity struct {
	Username string
	Domain string
}

// Message is a parsed SIP request or response.
type Message struct {
	IsRequest bool
	Method string
	RequestURI string
	StatusCode int
	ReasonPhrase string
	Headers map[string][]string
	CallID string
	From Identity
	To Identity
	CSeqNumber uint32
	CSeqMethod string
	PAssertedIdentity []Identity
	Body []byte
	SDP *SDP
}

// Probe reports whether data looks like a SIP message.
func Probe(data []byte) bool {
	line, _, ok:= cutLine(data)
	if !ok {
		return false
	}
	line = string(bytes.TrimSpace([]byte(line)))
	if strings.HasPrefix(line, "SIP/2.0") {
		return true
	}
	fields:= strings.Fields(line)
	return len(fields) == 3 && fields[2] == "SIP/2.0"
}

func cutLine(data []byte) (string, []byte, bool) {
	idx:= bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", nil, false
	}
	return string(bytes.TrimRight(data[:idx], "\r")), data[idx+1:], true
}

// Parse decodes a SIP message, including any SDP body indicated by
// Content-Type.
func Parse(data []byte) (*Message, error) {
	firstLine, rest, ok:= cutLine(data)
	if !ok {
		return nil, perr.New(perr.TruncatedPacket, "sip.Parse", "missing start line")
	}

	msg:= &Message{Headers: make(map[string][]string)}
	if strings.HasPrefix(firstLine, "SIP/2.0") {
		msg.IsRequest = false
		parts:= strings.SplitN(firstLine, " ", 3)
		if len(parts) < 2 {
			return nil, perr.New(perr.Malformed, "sip.Parse", "malformed status line")
		}
		code, err:= strconv.Atoi(parts[1])
		if err != nil {
			return nil, perr.Wrap(perr.Malformed, "sip.Parse", err)
		}
		msg.StatusCode = code
		if len(parts) == 3 {
			msg.ReasonPhrase = parts[2]
		}
	} else {
		parts:= strings.Fields(firstLine)
		if len(parts) != 3 || parts[2] != "SIP/2.0" {
			return nil, perr.New(perr.Malformed, "sip.Parse", "malformed request line")
		}
		msg.IsRequest = true
		msg.Method = parts[0]
		msg.RequestURI = parts[1]
	}

	headerBytes, body:= splitHeadersBody(rest)
	if err:= parseHeaders(msg, headerBytes); err != nil {
		return nil, err
	}
	msg.Body = body

	if ct:= firstHeader(msg.Headers, "content-type"); strings.Contains(strings.ToLower(ct), "application/sdp") {
		sdp, err:= ParseSDP(body)
		if err == nil {
			msg.SDP = sdp
		}
	}

	return msg, nil
}

func splitHeadersBody(data []byte) ([]byte, []byte) {
	if idx:= bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		return data[:idx], data[idx+4:]
	}
	if idx:= bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return data[:idx], data[idx+2:]
	}
	return data, nil
}

func parseHeaders(msg *Message, headerBytes []byte) error {
	scanner:= bufio.NewScanner(bytes.NewReader(headerBytes))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name, value string
	flush:= func() {
		if name == "" {
			return
		}
		canon:= canonicalHeaderName(name)
		msg.Headers[canon] = append(msg.Headers[canon], strings.TrimSpace(value))
		applyKnownHeader(msg, canon, strings.TrimSpace(value))
	}

	for scanner.Scan() {
		line:= strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Folded continuation of the previous header.
			value += " " + strings.TrimSpace(line)
			continue
		}
		flush()
		colon:= strings.IndexByte(line, ':')
		if colon < 0 {
			name, value = "", ""
			continue
		}
		name = strings.TrimSpace(line[:colon])
		value = line[colon+1:]
	}
	flush()
	return nil
}

func canonicalHeaderName(name string) string {
	lower:= strings.ToLower(name)
	if full, ok:= compactHeaderNames[lower]; ok {
		return full
	}
	return lower
}

func firstHeader(headers map[string][]string, name string) string {
	if vs, ok:= headers[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func applyKnownHeader(msg *Message, name, value string) {
	switch name {
	case "call-id":
		msg.CallID = value
	case "from":
		msg.From = parseIdentity(value)
	case "to":
		msg.To = parseIdentity(value)
	case "p-asserted-identity":
		msg.PAssertedIdentity = append(msg.PAssertedIdentity, parseIdentity(value))
	case "cseq":
		fields:= strings.Fields(value)
		if len(fields) == 2 {
			if n, err:= strconv.ParseUint(fields[0], 10, 32); err == nil {
				msg.CSeqNumber = uint32(n)
			}
			msg.CSeqMethod = fields[1]
		}
	}
}

// parseIdentity extracts {username, domain} from a From/To/P-Asserted-Identity
// header value such as `"Alice" <sip:alice@example.com>;tag=abc`.
func parseIdentity(value string) Identity {
	start:= strings.IndexByte(value, '<')
	end:= strings.IndexByte(value, '>')
	uri:= value
	if start >= 0 && end > start {
		uri = value[start+1: end]
	}
	uri = strings.TrimPrefix(uri, "sip:")
	uri = strings.TrimPrefix(uri, "sips:")
	if semi:= strings.IndexByte(uri, ';'); semi >= 0 {
		uri = uri[:semi]
	}
	at:= strings.IndexByte(uri, '@')
	if at < 0 {
		return Identity{Domain: uri}
	}
	return Identity{Username: uri[:at], Domain: uri[at+1:]}
}

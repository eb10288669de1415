package sip

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/corepcap/mobilecore/perr"
)

// Media describes one `m=` line and its associated attributes.
type Media struct {
	Type string // audio, video, application,...
	Port uint16
	Proto string
	Attributes map[string]string
}

// SDP is a minimal parse of an SDP body sufficient for session correlation
// and dynamic port learning.
type SDP struct {
	SessionName string
	ConnIP string
	Media []Media
}

// ParseSDP parses `s=`, `c=`, `m=`, and `a=` lines from an SDP body.
func ParseSDP(data []byte) (*SDP, error) {
	if len(data) == 0 {
		return nil, perr.New(perr.TruncatedPacket, "sip.ParseSDP", "empty SDP body")
	}

	sdp:= &SDP{}
	var current *Media

	scanner:= bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line:= strings.TrimRight(scanner.Text(), "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		kind, value:= line[0], line[2:]

		switch kind {
		case 's':
			sdp.SessionName = value
		case 'c':
			ip:= parseConnectionIP(value)
			if current != nil {
				if current.Attributes == nil {
					current.Attributes = make(map[string]string)
				}
				current.Attributes["c"] = ip
			} else {
				sdp.ConnIP = ip
			}
		case 'm':
			m, ok:= parseMediaLine(value)
			if ok {
				sdp.Media = append(sdp.Media, m)
				current = &sdp.Media[len(sdp.Media)-1]
			}
		case 'a':
			if current != nil {
				if current.Attributes == nil {
					current.Attributes = make(map[string]string)
				}
				key, val:= splitAttribute(value)
				current.Attributes[key] = val
			}
		}
	}

	return sdp, nil
}

func parseConnectionIP(value string) string {
	// c=<nettype> <addrtype> <connection-address>
	fields:= strings.Fields(value)
	if len(fields) < 3 {
		return ""
	}
	addr:= fields[2]
	if slash:= strings.IndexByte(addr, '/'); slash >= 0 {
		addr = addr[:slash]
	}
	return addr
}

func parseMediaLine(value string) (Media, bool) {
	// m=<media> <port> <proto> <fmt>...
	fields:= strings.Fields(value)
	if len(fields) < 3 {
		return Media{}, false
	}
	port, err:= strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Media{}, false
	}
	return Media{Type: fields[0], Port: uint16(port), Proto: fields[2]}, true
}

func splitAttribute(value string) (string, string) {
	if colon:= strings.IndexByte(value, ':'); colon >= 0 {
		return value[:colon], value[colon+1:]
	}
	return value, ""
}

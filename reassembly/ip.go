// Package reassembly implements C4 (IP), C5 (TCP) and C6 (SCTP) reassembly
// as custom state machines tracking the exact fragment/segment-table
// invariants this pipeline requires, rather than delegating to
// gopacket/reassembly, whose assembler owns its own flush/timeout model.
package reassembly

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/perr"
)

// Datagram is a fully reassembled (or pass-through, single-fragment) IP
// datagram ready for transport-layer dispatch.
type Datagram struct {
	SrcIP net.IP
	DstIP net.IP
	Protocol model.IPProtocol
	Payload []byte
}

// ipFragmentKey identifies one in-flight fragmented datagram. protocol and
// isIPv6 join src/dst/id so that distinct-protocol (or v4/v6) fragmented
// datagrams between the same two hosts sharing an IP ID don't collide.
type ipFragmentKey struct {
	src, dst string
	id uint32
	protocol model.IPProtocol
	isIPv6 bool
}

type ipFragmentEntry struct {
	fragments map[int][]byte // byte offset -> payload
	totalLength int // -1 until the final fragment (MF=0) is seen
	srcIP net.IP
	dstIP net.IP
	protocol model.IPProtocol
	lastUpdated time.Time
}

// IPReassembler holds per-worker IPv4/IPv6 fragment reassembly state. It is
// never shared across workers.
type IPReassembler struct {
	table map[ipFragmentKey]*ipFragmentEntry
	timeout time.Duration
}

// DefaultFragmentTimeout is the 30s default sweep threshold.
const DefaultFragmentTimeout = 30 * time.Second

func NewIPReassembler(timeout time.Duration) *IPReassembler {
	if timeout <= 0 {
		timeout = DefaultFragmentTimeout
	}
	return &IPReassembler{table: make(map[ipFragmentKey]*ipFragmentEntry), timeout: timeout}
}

const maxIPv6ExtensionHeaders = 10

// ProcessIPv4 consumes one IPv4 datagram (data starting at the IP header) at
// observation time now. It returns a completed Datagram immediately for
// non-fragmented packets, or once the fragment set for its key closes; ok is
// false while the datagram is still incomplete.
func (r *IPReassembler) ProcessIPv4(data []byte, now time.Time) (dg Datagram, ok bool, err error) {
	if len(data) < 20 {
		return Datagram{}, false, perr.New(perr.TruncatedPacket, "reassembly.ProcessIPv4", "short IPv4 header")
	}
	ihl:= int(data[0]&0x0F) * 4
	if ihl < 20 || len(data) < ihl {
		return Datagram{}, false, perr.New(perr.Malformed, "reassembly.ProcessIPv4", "invalid IHL")
	}
	totalLen:= int(binary.BigEndian.Uint16(data[2:4]))
	id:= uint32(binary.BigEndian.Uint16(data[4:6]))
	flagsFrag:= binary.BigEndian.Uint16(data[6:8])
	moreFragments:= flagsFrag&0x2000 != 0
	fragOffsetBytes:= int(flagsFrag&0x1FFF) * 8
	protocol:= model.IPProtocol(data[9])
	srcIP:= net.IP(append([]byte(nil), data[12:16]...))
	dstIP:= net.IP(append([]byte(nil), data[16:20]...))

	if totalLen > len(data) {
		totalLen = len(data)
	}
	payload:= data[ihl:totalLen]

	if !moreFragments && fragOffsetBytes == 0 {
		// Not a fragment at all.
		return Datagram{SrcIP: srcIP, DstIP: dstIP, Protocol: protocol, Payload: payload}, true, nil
	}

	key:= ipFragmentKey{src: srcIP.String(), dst: dstIP.String(), id: id, protocol: protocol}
	entry:= r.table[key]
	if entry == nil {
		entry = &ipFragmentEntry{
			fragments: make(map[int][]byte),
			totalLength: -1,
			srcIP: srcIP,
			dstIP: dstIP,
			protocol: protocol,
		}
		r.table[key] = entry
	}
	entry.lastUpdated = now

	if fragOffsetBytes+len(payload) < fragOffsetBytes {
		delete(r.table, key)
		return Datagram{}, false, perr.New(perr.Sanity, "reassembly.ProcessIPv4", "fragment offset+length overflow")
	}

	entry.fragments[fragOffsetBytes] = payload
	if !moreFragments {
		finalLength:= fragOffsetBytes + len(payload)
		if entry.totalLength != -1 && entry.totalLength != finalLength {
			delete(r.table, key)
			return Datagram{}, false, perr.New(perr.Sanity, "reassembly.ProcessIPv4", "contradictory total_length")
		}
		entry.totalLength = finalLength
	}

	complete, out:= tryCompleteIPv4(entry)
	if !complete {
		return Datagram{}, false, nil
	}
	delete(r.table, key)
	return Datagram{SrcIP: entry.srcIP, DstIP: entry.dstIP, Protocol: entry.protocol, Payload: out}, true, nil
}

func tryCompleteIPv4(entry *ipFragmentEntry) (bool, []byte) {
	if entry.totalLength < 0 {
		return false, nil
	}
	out:= make([]byte, entry.totalLength)
	covered:= 0
	for covered < entry.totalLength {
		frag, found:= entry.fragments[covered]
		if !found {
			return false, nil
		}
		n:= copy(out[covered:], frag)
		covered += n
	}
	return true, out
}

// ProcessIPv6 consumes one IPv6 datagram (data starting at the base header),
// walking Hop-By-Hop/Routing/Destination-Options headers (bounded to
// maxIPv6ExtensionHeaders) looking for a Fragment header (next header 44).
func (r *IPReassembler) ProcessIPv6(data []byte, now time.Time) (dg Datagram, ok bool, err error) {
	const ipv6HeaderLen = 40
	if len(data) < ipv6HeaderLen {
		return Datagram{}, false, perr.New(perr.TruncatedPacket, "reassembly.ProcessIPv6", "short IPv6 header")
	}
	payloadLen:= int(binary.BigEndian.Uint16(data[4:6]))
	nextHeader:= data[6]
	srcIP:= net.IP(append([]byte(nil), data[8:24]...))
	dstIP:= net.IP(append([]byte(nil), data[24:40]...))

	end:= ipv6HeaderLen + payloadLen
	if end > len(data) {
		end = len(data)
	}

	offset:= ipv6HeaderLen
	hops:= 0
	for {
		switch nextHeader {
		case 0, 43, 60: // Hop-By-Hop, Routing, Destination Options
			hops++
			if hops > maxIPv6ExtensionHeaders {
				return Datagram{}, false, perr.New(perr.Sanity, "reassembly.ProcessIPv6", "too many extension headers")
			}
			if offset+2 > end {
				return Datagram{}, false, perr.New(perr.TruncatedPacket, "reassembly.ProcessIPv6", "truncated extension header")
			}
			nh:= data[offset]
			hdrLen:= (int(data[offset+1]) + 1) * 8
			if offset+hdrLen > end {
				return Datagram{}, false, perr.New(perr.TruncatedPacket, "reassembly.ProcessIPv6", "truncated extension header")
			}
			nextHeader = nh
			offset += hdrLen
		case 44: // Fragment header
			return r.processIPv6Fragment(data, offset, end, srcIP, dstIP, now)
		default:
			return Datagram{SrcIP: srcIP, DstIP: dstIP, Protocol: model.IPProtocol(nextHeader), Payload: data[offset:end]}, true, nil
		}
	}
}

func (r *IPReassembler) processIPv6Fragment(data []byte, fragOff, end int, srcIP, dstIP net.IP, now time.Time) (Datagram, bool, error) {
	const fragHeaderLen = 8
	if fragOff+fragHeaderLen > end {
		return Datagram{}, false, perr.New(perr.TruncatedPacket, "reassembly.processIPv6Fragment", "truncated fragment header")
	}
	fragNextHeader:= data[fragOff]
	offsetFlags:= binary.BigEndian.Uint16(data[fragOff+2: fragOff+4])
	fragByteOffset:= int(offsetFlags>>3) * 8
	moreFragments:= offsetFlags&0x1 != 0
	id:= binary.BigEndian.Uint32(data[fragOff+4: fragOff+8])

	payload:= data[fragOff+fragHeaderLen: end]

	key:= ipFragmentKey{src: srcIP.String(), dst: dstIP.String(), id: id, protocol: model.IPProtocol(fragNextHeader), isIPv6: true}
	entry:= r.table[key]
	if entry == nil {
		entry = &ipFragmentEntry{
			fragments: make(map[int][]byte),
			totalLength: -1,
			srcIP: srcIP,
			dstIP: dstIP,
			protocol: model.IPProtocol(fragNextHeader),
		}
		r.table[key] = entry
	}
	entry.lastUpdated = now
	if fragNextHeader != 44 {
		entry.protocol = model.IPProtocol(fragNextHeader)
	}

	if fragByteOffset+len(payload) < fragByteOffset {
		delete(r.table, key)
		return Datagram{}, false, perr.New(perr.Sanity, "reassembly.processIPv6Fragment", "fragment offset+length overflow")
	}

	entry.fragments[fragByteOffset] = payload
	if !moreFragments {
		finalLength:= fragByteOffset + len(payload)
		if entry.totalLength != -1 && entry.totalLength != finalLength {
			delete(r.table, key)
			return Datagram{}, false, perr.New(perr.Sanity, "reassembly.processIPv6Fragment", "contradictory total_length")
		}
		entry.totalLength = finalLength
	}

	complete, out:= tryCompleteIPv4(entry)
	if !complete {
		return Datagram{}, false, nil
	}
	delete(r.table, key)
	return Datagram{SrcIP: entry.srcIP, DstIP: entry.dstIP, Protocol: entry.protocol, Payload: out}, true, nil
}

// Sweep removes fragment entries untouched since before now.Add(-r.timeout),
// per the 30s default TTL.
func (r *IPReassembler) Sweep(now time.Time) int {
	removed:= 0
	threshold:= now.Add(-r.timeout)
	for k, e:= range r.table {
		if e.lastUpdated.Before(threshold) {
			delete(r.table, k)
			removed++
		}
	}
	return removed
}

// PendingCount reports the number of in-flight fragment keys, for tests and
// diagnostics.
func (r *IPReassembler) PendingCount() int { return len(r.table) }

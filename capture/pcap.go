package capture

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/corepcap/mobilecore/perr"
)

// classicGlobalHeaderLen is the part of the 24-byte libpcap global header
// that follows the 4-byte magic number (which newClassicReader consumes first).
const classicGlobalHeaderLen = 20 // remaining bytes after the 4-byte magic
const classicRecordHeaderLen = 16

// classicReader streams a classic (single-interface) PCAP file.
type classicReader struct {
	r *bufio.Reader
	order binary.ByteOrder
	nanoRes bool
	linkType int
	frameNum uint64
	ifaces []*ResolvedInterface
}

func newClassicReader(r *bufio.Reader, swapped, nanoRes bool) (*classicReader, error) {
	// Consume the 4-byte magic that sniff peeked at.
	magic:= make([]byte, 4)
	if _, err:= io.ReadFull(r, magic); err != nil {
		return nil, perr.Wrap(perr.TruncatedBlock, "capture.pcap", err)
	}

	order:= binary.ByteOrder(binary.LittleEndian)
	if swapped {
		order = binary.BigEndian
	}

	rest:= make([]byte, classicGlobalHeaderLen)
	if _, err:= io.ReadFull(r, rest); err != nil {
		return nil, perr.Wrap(perr.TruncatedBlock, "capture.pcap", err)
	}

	// Global header layout (after magic): version_major(2) version_minor(2)
	// thiszone(4) sigfigs(4) snaplen(4) network(4).
	network:= order.Uint32(rest[16:20])

	tsRes:= uint64(1000) // microsecond resolution -> ns per tick
	if nanoRes {
		tsRes = 1
	}

	iface:= &ResolvedInterface{
		ID: 0,
		Name: "pcap0",
		LinkType: int(network),
		TSResolNS: tsRes,
	}

	return &classicReader{
		r: r,
		order: order,
		nanoRes: nanoRes,
		linkType: int(network),
		ifaces: []*ResolvedInterface{iface},
	}, nil
}

func (c *classicReader) Interfaces() []*ResolvedInterface { return c.ifaces }

func (c *classicReader) Next() (Frame, error) {
	hdr:= make([]byte, classicRecordHeaderLen)
	if _, err:= io.ReadFull(c.r, hdr); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, perr.Wrap(perr.TruncatedBlock, "capture.pcap", err)
	}

	tsSec:= c.order.Uint32(hdr[0:4])
	tsFrac:= c.order.Uint32(hdr[4:8])
	inclLen:= c.order.Uint32(hdr[8:12])
	origLen:= c.order.Uint32(hdr[12:16])

	if inclLen > 1<<26 { // 64MiB sanity bound, well above any real snaplen
		return Frame{}, perr.New(perr.Sanity, "capture.pcap", "implausible record length")
	}

	data:= make([]byte, inclLen)
	if _, err:= io.ReadFull(c.r, data); err != nil {
		return Frame{}, perr.Wrap(perr.TruncatedPacket, "capture.pcap", err)
	}

	var ns int64
	if c.nanoRes {
		ns = int64(tsSec)*int64(time.Second) + int64(tsFrac)
	} else {
		ns = int64(tsSec)*int64(time.Second) + int64(tsFrac)*int64(time.Microsecond)
	}

	c.frameNum++
	return Frame{
		FrameNumber: c.frameNum,
		InterfaceID: 0,
		Timestamp: ns,
		OriginalLength: int(origLen),
		Data: data,
	}, nil
}

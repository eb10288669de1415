package pipeline

import (
	"encoding/binary"

	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/reassembly"
)

// Transport-layer headers are hand-decoded with encoding/binary, matching
// every proto/* package's treatment of its own fixed wire header rather than
// reaching for gopacket/layers (which, per linklayer's doc comment, supplies
// only EthernetType values; link-layer headers are hand-decoded too).

// udpHeader is the 8-byte UDP header.
type udpHeader struct {
	SrcPort uint16
	DstPort uint16
}

func parseUDP(data []byte) (udpHeader, []byte, error) {
	if len(data) < 8 {
		return udpHeader{}, nil, perr.New(perr.TruncatedPacket, "pipeline.parseUDP", "short UDP header")
	}
	h:= udpHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
	}
	return h, data[8:], nil
}

// tcpHeader is the subset of the TCP header the reassembler needs.
type tcpHeader struct {
	SrcPort uint16
	DstPort uint16
	Seq uint32
	SYN bool
	FIN bool
	RST bool
	ACK bool
}

func parseTCP(data []byte) (tcpHeader, []byte, error) {
	if len(data) < 20 {
		return tcpHeader{}, nil, perr.New(perr.TruncatedPacket, "pipeline.parseTCP", "short TCP header")
	}
	dataOffset:= int(data[12]>>4) * 4
	if dataOffset < 20 || len(data) < dataOffset {
		return tcpHeader{}, nil, perr.New(perr.Malformed, "pipeline.parseTCP", "invalid TCP data offset")
	}
	flags:= data[13]
	h:= tcpHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq: binary.BigEndian.Uint32(data[4:8]),
		FIN: flags&0x01 != 0,
		SYN: flags&0x02 != 0,
		RST: flags&0x04 != 0,
		ACK: flags&0x10 != 0,
	}
	return h, data[dataOffset:], nil
}

// sctpHeader is the 12-byte SCTP common header.
type sctpHeader struct {
	SrcPort uint16
	DstPort uint16
	VerificationTag uint32
}

const (
	sctpChunkData = 0
)

func parseSCTP(data []byte) (sctpHeader, []byte, error) {
	if len(data) < 12 {
		return sctpHeader{}, nil, perr.New(perr.TruncatedPacket, "pipeline.parseSCTP", "short SCTP common header")
	}
	h:= sctpHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		VerificationTag: binary.BigEndian.Uint32(data[4:8]),
	}
	return h, data[12:], nil
}

// sctpDataChunks walks an SCTP packet's chunk list (following the common
// header), yielding every DATA chunk it finds. Non-DATA chunks (INIT, SACK,
// HEARTBEAT,...) carry no application payload for this pipeline's purposes
// and are skipped.
func sctpDataChunks(chunkData []byte) ([]reassembly.SCTPDataChunk, error) {
	var out []reassembly.SCTPDataChunk
	for len(chunkData) > 0 {
		if len(chunkData) < 4 {
			return out, perr.New(perr.TruncatedPacket, "pipeline.sctpDataChunks", "truncated chunk header")
		}
		chunkType:= chunkData[0]
		flags:= chunkData[1]
		length:= int(binary.BigEndian.Uint16(chunkData[2:4]))
		if length < 4 || length > len(chunkData) {
			return out, perr.New(perr.Malformed, "pipeline.sctpDataChunks", "invalid chunk length")
		}
		if chunkType == sctpChunkData {
			if length < 16 {
				return out, perr.New(perr.TruncatedPacket, "pipeline.sctpDataChunks", "truncated DATA chunk")
			}
			body:= chunkData[4:length]
			out = append(out, reassembly.SCTPDataChunk{
				StreamID: binary.BigEndian.Uint16(body[4:6]),
				StreamSeq: binary.BigEndian.Uint16(body[6:8]),
				PPID: binary.BigEndian.Uint32(body[8:12]),
				Begin: flags&0x02 != 0,
				End: flags&0x01 != 0,
				Payload: body[12:],
			})
		}
		// Chunks are padded to a 4-byte boundary.
		padded:= (length + 3) &^ 3
		if padded > len(chunkData) {
			break
		}
		chunkData = chunkData[padded:]
	}
	return out, nil
}

// gtpuTEID extracts the Tunnel Endpoint Identifier from a GTP-U header
// (UDP/2152 data-plane traffic), for the byte/packet counters tunnel.Manager
// tracks. GTP-U's own G-PDU payload is opaque to this
// pipeline; only the 8-byte mandatory header is inspected.
func gtpuTEID(data []byte) (uint32, bool) {
	if len(data) < 8 {
		return 0, false
	}
	version:= data[0] >> 5
	if version != 1 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[4:8]), true
}

package capture

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/corepcap/mobilecore/perr"
)

const (
	blockTypeSectionHeader = 0x0A0D0D0A
	blockTypeInterfaceDesc = 0x00000001
	blockTypeSimplePacket = 0x00000003
	blockTypeNameResolution = 0x00000004
	blockTypeInterfaceStats = 0x00000005
	blockTypeEnhancedPacket = 0x00000006
	blockTypeDecryptSecrets = 0x0000000A
	blockTypeCustomCopy = 0x00000BAD
	blockTypeCustomNoCopy = 0x40000BAD
)

const (
	optEndOfOpt = 0
	optComment = 1
	optIfName = 2
	optIfDesc = 3
	optIfSpeed = 8
	optIfTSResol = 9
	optIfFilter = 11
	optIfOS = 12
	optIfHardware = 15
)

// pcapngReader streams a PCAPNG capture block by block.
type pcapngReader struct {
	r *bufio.Reader
	order binary.ByteOrder
	ifaces []*ResolvedInterface
	frameNum uint64
}

func newPCAPNGReader(r *bufio.Reader) (*pcapngReader, error) {
	pr:= &pcapngReader{r: r, order: binary.LittleEndian}
	// The first block must be a Section Header Block; read it to establish
	// byte order before anything else.
	if err:= pr.readSectionHeader(); err != nil {
		return nil, err
	}
	return pr, nil
}

func (p *pcapngReader) Interfaces() []*ResolvedInterface { return p.ifaces }

// readSectionHeader consumes one Section Header Block and (re)establishes
// byte order from its byte-order-magic field.
func (p *pcapngReader) readSectionHeader() error {
	typeBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, typeBuf); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	blockType:= binary.LittleEndian.Uint32(typeBuf)
	if blockType != blockTypeSectionHeader {
		return perr.New(perr.Malformed, "capture.pcapng", "expected Section Header Block")
	}

	lenBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, lenBuf); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	// Byte order of the total length field itself is ambiguous until we see
	// the byte-order magic; try little-endian first since that covers the
	// overwhelmingly common case, and re-derive from the magic regardless.
	totalLen:= binary.LittleEndian.Uint32(lenBuf)

	bomBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, bomBuf); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	switch binary.LittleEndian.Uint32(bomBuf) {
	case magicPCAPNGByteOrderBE:
		p.order = binary.LittleEndian
	case magicPCAPNGByteOrderLE:
		// The magic reads byte-swapped as little-endian: the section is big-endian.
		p.order = binary.BigEndian
		totalLen = binary.BigEndian.Uint32(lenBuf)
	default:
		switch binary.BigEndian.Uint32(bomBuf) {
		case magicPCAPNGByteOrderBE:
			p.order = binary.BigEndian
			totalLen = binary.BigEndian.Uint32(lenBuf)
		default:
			return perr.New(perr.Malformed, "capture.pcapng", "unrecognized byte-order magic")
		}
	}

	if totalLen < 16 {
		return perr.New(perr.Malformed, "capture.pcapng", "section header block too short")
	}

	// We've consumed type(4)+len(4)+bom(4)=12 bytes; read the rest of the
	// body (total_len - 12 - 4 trailing length) and verify the trailing
	// length matches.
	bodyRemaining:= int(totalLen) - 12 - 4
	if bodyRemaining < 0 {
		return perr.New(perr.Malformed, "capture.pcapng", "section header block length underflow")
	}
	body:= make([]byte, bodyRemaining)
	if _, err:= io.ReadFull(p.r, body); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}

	trailer:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, trailer); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	if p.order.Uint32(trailer) != totalLen {
		return perr.New(perr.TruncatedBlock, "capture.pcapng", "section header trailing length mismatch")
	}
	return nil
}

// tsResolNanos converts an if_tsresol option byte into an effective
// resolution in nanoseconds: low 7 bits are the exponent; a
// set high bit selects base 2, otherwise base 10.
func tsResolNanos(b byte) uint64 {
	exp:= uint(b & 0x7F)
	const nsPerSecond = 1_000_000_000
	var base uint64 = 10
	if b&0x80 != 0 {
		base = 2
	}
	denom:= uint64(1)
	for i:= uint(0); i < exp; i++ {
		denom *= base
	}
	if denom == 0 {
		return 1
	}
	return nsPerSecond / denom
}

func parseIfaceOptions(iface *ResolvedInterface, opts []byte, order binary.ByteOrder) {
	iface.TSResolNS = 1000 // default: microsecond resolution per the PCAPNG spec
	i:= 0
	for i+4 <= len(opts) {
		code:= order.Uint16(opts[i: i+2])
		length:= int(order.Uint16(opts[i+2: i+4]))
		i += 4
		if code == optEndOfOpt {
			break
		}
		if i+length > len(opts) {
			break
		}
		val:= opts[i: i+length]
		switch code {
		case optIfName:
			iface.Name = string(val)
		case optIfDesc:
			iface.Description = string(val)
		case optIfTSResol:
			if len(val) >= 1 {
				iface.TSResolNS = tsResolNanos(val[0])
			}
		case optIfSpeed:
			if len(val) >= 8 {
				iface.Speed = order.Uint64(val)
			}
		case optIfOS:
			iface.OS = string(val)
		case optIfHardware:
			iface.Hardware = string(val)
		}
		// Options are padded to a 4-byte boundary.
		padded:= (length + 3) &^ 3
		i += padded
	}
}

// readBlockBody reads one full block (having already consumed the 4-byte
// block type) and returns its body with the length framing validated.
func (p *pcapngReader) readBlockBody(blockType uint32) ([]byte, error) {
	lenBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, lenBuf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	totalLen:= p.order.Uint32(lenBuf)
	if totalLen < 12 {
		return nil, perr.New(perr.Malformed, "capture.pcapng", "block length too small")
	}

	bodyLen:= int(totalLen) - 12
	body:= make([]byte, bodyLen)
	if _, err:= io.ReadFull(p.r, body); err != nil {
		return nil, perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}

	trailer:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, trailer); err != nil {
		return nil, perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	if p.order.Uint32(trailer) != totalLen {
		return nil, perr.New(perr.TruncatedBlock, "capture.pcapng", "block trailing length mismatch")
	}
	return body, nil
}

// Next returns the next Enhanced/Simple Packet Block as a Frame, skipping
// and interpreting all other block types along the way.
func (p *pcapngReader) Next() (Frame, error) {
	for {
		typeBuf:= make([]byte, 4)
		if _, err:= io.ReadFull(p.r, typeBuf); err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
		}
		blockType:= p.order.Uint32(typeBuf)

		if blockType == blockTypeSectionHeader {
			// A new section restarts byte-order detection; readSectionHeader
			// expects to read the type field too, so rewind logically by
			// handling it inline instead of re-peeking.
			if err:= p.readEmbeddedSectionHeader(); err != nil {
				return Frame{}, err
			}
			continue
		}

		body, err:= p.readBlockBody(blockType)
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			// A malformed/truncated block is skipped; caller keeps pulling.
			return Frame{}, err
		}

		switch blockType {
		case blockTypeInterfaceDesc:
			p.handleInterfaceDescription(body)
		case blockTypeEnhancedPacket:
			if f, ok:= p.handleEnhancedPacket(body); ok {
				return f, nil
			}
		case blockTypeSimplePacket:
			if f, ok:= p.handleSimplePacket(body); ok {
				return f, nil
			}
		case blockTypeNameResolution, blockTypeInterfaceStats,
			blockTypeCustomCopy, blockTypeCustomNoCopy, blockTypeDecryptSecrets:
			// Recognized but carry no packet data relevant to the pipeline.
		default:
			// Unknown block type: already consumed per its own length field.
		}
	}
}

func (p *pcapngReader) readEmbeddedSectionHeader() error {
	lenBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, lenBuf); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	totalLen:= binary.LittleEndian.Uint32(lenBuf)

	bomBuf:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, bomBuf); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	switch binary.LittleEndian.Uint32(bomBuf) {
	case magicPCAPNGByteOrderBE:
		p.order = binary.LittleEndian
	default:
		if binary.BigEndian.Uint32(bomBuf) == magicPCAPNGByteOrderBE {
			p.order = binary.BigEndian
			totalLen = binary.BigEndian.Uint32(lenBuf)
		} else {
			return perr.New(perr.Malformed, "capture.pcapng", "unrecognized byte-order magic")
		}
	}

	bodyRemaining:= int(totalLen) - 12 - 4
	if bodyRemaining < 0 {
		return perr.New(perr.Malformed, "capture.pcapng", "section header block length underflow")
	}
	body:= make([]byte, bodyRemaining)
	if _, err:= io.ReadFull(p.r, body); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	trailer:= make([]byte, 4)
	if _, err:= io.ReadFull(p.r, trailer); err != nil {
		return perr.Wrap(perr.TruncatedBlock, "capture.pcapng", err)
	}
	if p.order.Uint32(trailer) != totalLen {
		return perr.New(perr.TruncatedBlock, "capture.pcapng", "section header trailing length mismatch")
	}
	return nil
}

func (p *pcapngReader) handleInterfaceDescription(body []byte) {
	if len(body) < 8 {
		return
	}
	linkType:= p.order.Uint16(body[0:2])
	iface:= &ResolvedInterface{
		ID: len(p.ifaces),
		LinkType: int(linkType),
	}
	if len(body) > 8 {
		parseIfaceOptions(iface, body[8:], p.order)
	} else {
		iface.TSResolNS = 1000
	}
	if iface.Name == "" {
		iface.Name = "if" + portDigits(iface.ID)
	}
	p.ifaces = append(p.ifaces, iface)
}

func portDigits(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i:= len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (p *pcapngReader) handleEnhancedPacket(body []byte) (Frame, bool) {
	if len(body) < 20 {
		return Frame{}, false
	}
	ifaceID:= int(p.order.Uint32(body[0:4]))
	tsHigh:= p.order.Uint32(body[4:8])
	tsLow:= p.order.Uint32(body[8:12])
	capturedLen:= p.order.Uint32(body[12:16])
	origLen:= p.order.Uint32(body[16:20])

	if 20+int(capturedLen) > len(body) {
		return Frame{}, false
	}
	data:= make([]byte, capturedLen)
	copy(data, body[20:20+capturedLen])

	var tsResol uint64 = 1000
	if ifaceID < len(p.ifaces) && p.ifaces[ifaceID].TSResolNS != 0 {
		tsResol = p.ifaces[ifaceID].TSResolNS
	}
	ts64:= (uint64(tsHigh) << 32) | uint64(tsLow)
	ns:= int64(ts64 * tsResol)

	p.frameNum++
	return Frame{
		FrameNumber: p.frameNum,
		InterfaceID: ifaceID,
		Timestamp: ns,
		OriginalLength: int(origLen),
		Data: data,
	}, true
}

func (p *pcapngReader) handleSimplePacket(body []byte) (Frame, bool) {
	if len(body) < 4 {
		return Frame{}, false
	}
	origLen:= p.order.Uint32(body[0:4])
	data:= body[4:]
	if len(data) > int(origLen) {
		data = data[:origLen]
	}
	cp:= make([]byte, len(data))
	copy(cp, data)

	p.frameNum++
	return Frame{
		FrameNumber: p.frameNum,
		InterfaceID: 0,
		Timestamp: 0,
		OriginalLength: int(origLen),
		Data: cp,
	}, true
}

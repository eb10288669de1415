// Package capture implements C1 (capture reader) and C2 (interface
// classifier): container auto-detection for PCAP/PCAPNG (optionally
// gzip/bzip2-wrapped), block-level PCAPNG streaming, and telecom interface
// classification.
package capture

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/corepcap/mobilecore/perr"
)

// ContainerKind is the closed set of capture container formats the reader
// can identify by magic number.
type ContainerKind int

const (
	ContainerUnknown ContainerKind = iota
	ContainerPCAPClassic
	ContainerPCAPNG
)

const (
	magicPCAPClassic = 0xA1B2C3D4
	magicPCAPClassicSwap = 0xD4C3B2A1
	magicPCAPNano = 0xA1B23C4D
	magicPCAPNanoSwap = 0x4D3CB2A1
	magicPCAPNGBlockType = 0x0A0D0D0A
	magicPCAPNGByteOrderBE = 0x1A2B3C4D
	magicPCAPNGByteOrderLE = 0x4D3C2B1A
)

// sniff peeks at the first bytes of r (without consuming them) and reports
// the container kind plus whether the classic PCAP global header is
// byte-swapped relative to this reader's native interpretation, and whether
// classic timestamps are in nanosecond resolution.
func sniff(br *bufio.Reader) (kind ContainerKind, swapped bool, nanoResolution bool, err error) {
	head, peekErr:= br.Peek(4)
	if peekErr != nil {
		if peekErr == io.EOF || peekErr == io.ErrUnexpectedEOF {
			return ContainerUnknown, false, false, perr.Wrap(perr.Io, "capture.sniff", peekErr)
		}
		return ContainerUnknown, false, false, perr.Wrap(perr.Io, "capture.sniff", peekErr)
	}

	be:= binary.BigEndian.Uint32(head)
	le:= binary.LittleEndian.Uint32(head)

	switch le {
	case magicPCAPClassic:
		return ContainerPCAPClassic, false, false, nil
	case magicPCAPClassicSwap:
		return ContainerPCAPClassic, true, false, nil
	case magicPCAPNano:
		return ContainerPCAPClassic, false, true, nil
	case magicPCAPNanoSwap:
		return ContainerPCAPClassic, true, true, nil
	}
	_ = be

	if le == magicPCAPNGBlockType || be == magicPCAPNGBlockType {
		return ContainerPCAPNG, false, false, nil
	}

	return ContainerUnknown, false, false, perr.New(perr.Malformed, "capture.sniff", "unrecognized capture container magic")
}

// unwrapCompression detects gzip (0x1F8B) or bzip2 ("BZ") framing around the
// container and returns a reader over the decompressed bytes. ERF and Snoop
// captures are not recognized: sniff rejects them as an unrecognized magic
// (Malformed), and they are not decoded.
func unwrapCompression(r io.Reader) (io.Reader, error) {
	br:= bufio.NewReader(r)
	head, err:= br.Peek(2)
	if err != nil {
		if err == io.EOF {
			return br, nil
		}
		return nil, perr.Wrap(perr.Io, "capture.unwrapCompression", err)
	}

	switch {
	case head[0] == 0x1F && head[1] == 0x8B:
		gz, gzErr:= gzip.NewReader(br)
		if gzErr != nil {
			return nil, perr.Wrap(perr.Malformed, "capture.unwrapCompression", gzErr)
		}
		return gz, nil
	case head[0] == 'B' && head[1] == 'Z':
		return bzip2.NewReader(br), nil
	default:
		return br, nil
	}
}

// Open opens path, transparently unwraps gzip/bzip2 compression, sniffs the
// inner container magic, and returns a PacketSource that yields frames in
// capture order. The caller must Close the returned source.
func Open(path string) (*PacketSource, error) {
	f, err:= os.Open(path)
	if err != nil {
		return nil, perr.Wrap(perr.Io, "capture.Open", err)
	}

	decompressed, err:= unwrapCompression(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	br, ok:= decompressed.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(decompressed, 1<<16)
	}

	kind, swapped, nanoRes, err:= sniff(br)
	if err != nil {
		f.Close()
		return nil, err
	}

	switch kind {
	case ContainerPCAPClassic:
		rdr, err:= newClassicReader(br, swapped, nanoRes)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &PacketSource{closer: f, inner: rdr}, nil
	case ContainerPCAPNG:
		rdr, err:= newPCAPNGReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &PacketSource{closer: f, inner: rdr}, nil
	default:
		f.Close()
		return nil, perr.New(perr.Unsupported, "capture.Open", "container format not supported")
	}
}

// frameReader is the common pull interface both container formats satisfy.
type frameReader interface {
	// Next returns the next raw frame, or io.EOF when the capture is
	// exhausted. TruncatedBlock/TruncatedPacket/Malformed errors from a
	// single record are not fatal to the source; Next skips the offending
	// record and the caller is expected to continue calling Next.
	Next() (Frame, error)
	Interfaces() []*ResolvedInterface
}

// Frame is one raw link-layer frame plus its capture metadata, prior to any
// link-layer stripping (C3 consumes this).
type Frame struct {
	FrameNumber uint64
	InterfaceID int
	Timestamp int64 // unix nanoseconds
	OriginalLength int
	Data []byte
}

// ResolvedInterface mirrors model.Interface before C2 classification has
// run; capture only knows the raw name/description/options.
type ResolvedInterface struct {
	ID int
	Name string
	Description string
	LinkType int
	TSResolNS uint64
	Speed uint64
	OS string
	Hardware string
}

// PacketSource is the pull iterator returned by Open. It implements the
// "coroutine-like streaming" replacement: a plain pull
// loop instead of reader callbacks.
type PacketSource struct {
	closer io.Closer
	inner frameReader
}

// Next returns the next frame, or io.EOF once the capture is exhausted.
func (s *PacketSource) Next() (Frame, error) {
	return s.inner.Next()
}

// Interfaces returns all interfaces seen so far (for PCAPNG, this can grow
// as new Interface Description Blocks are streamed in; for classic PCAP it
// is always a single synthetic interface).
func (s *PacketSource) Interfaces() []*ResolvedInterface {
	return s.inner.Interfaces()
}

// Close releases the underlying file handle.
func (s *PacketSource) Close() error {
	return s.closer.Close()
}

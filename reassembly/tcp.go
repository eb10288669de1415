package reassembly

import (
	"time"

	"github.com/corepcap/mobilecore/model"
)

// maxOutOfOrderSegments is the 100-segment cap on buffered out-of-order TCP
// data per stream.
const maxOutOfOrderSegments = 100

// DefaultTCPStreamTimeout is the 120s reap threshold for idle streams.
const DefaultTCPStreamTimeout = 120 * time.Second

// TCPSegment is one inbound TCP segment, already IP-reassembled.
type TCPSegment struct {
	Seq uint32
	SYN bool
	FIN bool
	RST bool
	Payload []byte
}

// tcpStream holds per-five-tuple TCP reassembly state.
type tcpStream struct {
	nextSeq uint32
	synSeen bool
	started bool
	outOfOrder map[uint32][]byte
	lastActivity time.Time
}

// TCPReassembler tracks one reassembler per FiveTuple direction. It is
// per-worker state, never shared across workers.
type TCPReassembler struct {
	streams map[model.FiveTuple]*tcpStream
	timeout time.Duration
}

func NewTCPReassembler(timeout time.Duration) *TCPReassembler {
	if timeout <= 0 {
		timeout = DefaultTCPStreamTimeout
	}
	return &TCPReassembler{streams: make(map[model.FiveTuple]*tcpStream), timeout: timeout}
}

// seqLess reports whether a precedes b using modular 32-bit signed
// comparison, as required for wraparound-safe sequence arithmetic.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqDiff returns the signed distance b-a modulo 2^32.
func seqDiff(a, b uint32) int32 {
	return int32(b - a)
}

// Process feeds one segment into the stream for tuple at time now, returning
// zero or more payload chunks to emit in order (in-order arrival can drain
// multiple buffered out-of-order segments in one call).
func (r *TCPReassembler) Process(tuple model.FiveTuple, seg TCPSegment, now time.Time) [][]byte {
	s:= r.streams[tuple]
	if s == nil {
		s = &tcpStream{outOfOrder: make(map[uint32][]byte)}
		r.streams[tuple] = s
	}
	s.lastActivity = now

	var out [][]byte

	switch {
	case seg.SYN:
		s.nextSeq = seg.Seq + 1
		s.synSeen = true
		s.started = true
		if len(seg.Payload) > 0 {
			// SYN carrying data is vanishingly rare; that payload is
			// dropped, not emitted, and the stream starts at seq+1.
		}
	case !s.started:
		// Mid-stream pickup: adopt the first observed seq to enable partial
		// visibility.
		s.nextSeq = seg.Seq
		s.started = true
		fallthrough
	default:
		switch {
		case seg.Seq == s.nextSeq:
			if len(seg.Payload) > 0 {
				out = append(out, seg.Payload)
			}
			s.nextSeq += uint32(len(seg.Payload))
			out = append(out, r.drain(s)...)
			if seg.FIN {
				s.nextSeq++
			}
		case seqLess(s.nextSeq, seg.Seq):
			// Future segment: buffer if capacity allows.
			if len(s.outOfOrder) < maxOutOfOrderSegments {
				s.outOfOrder[seg.Seq] = seg.Payload
			}
		default:
			// Past/duplicate: drop.
		}
	}

	return out
}

// drain emits any buffered out-of-order segments that have become
// contiguous with nextSeq, advancing nextSeq through them.
func (r *TCPReassembler) drain(s *tcpStream) [][]byte {
	var out [][]byte
	for {
		payload, found:= s.outOfOrder[s.nextSeq]
		if !found {
			break
		}
		delete(s.outOfOrder, s.nextSeq)
		if len(payload) > 0 {
			out = append(out, payload)
		}
		s.nextSeq += uint32(len(payload))
	}

	// An overlapping/retransmitted future segment can leave a buffered key
	// behind nextSeq once it's been passed over; prune it so every key in
	// outOfOrder stays > nextSeq.
	for k:= range s.outOfOrder {
		if seqLess(k, s.nextSeq) {
			delete(s.outOfOrder, k)
		}
	}

	return out
}

// Sweep reaps streams idle since before now.Add(-r.timeout).
func (r *TCPReassembler) Sweep(now time.Time) int {
	removed:= 0
	threshold:= now.Add(-r.timeout)
	for k, s:= range r.streams {
		if s.lastActivity.Before(threshold) {
			delete(r.streams, k)
			removed++
		}
	}
	return removed
}

// StreamCount reports the number of tracked streams, for tests and
// diagnostics.
func (r *TCPReassembler) StreamCount() int { return len(r.streams) }

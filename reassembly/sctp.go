package reassembly

import (
	"time"

	"github.com/corepcap/mobilecore/model"
)

// SCTP DATA chunk PPID-to-protocol dispatch table. Unknown
// PPIDs fall back to heuristic detection on the payload bytes, performed by
// the caller.
const (
	PPIDS1AP = 18
	PPIDX2AP = 27
	PPIDDiameter = 46
	PPIDNGAP = 60
)

var ppidProtocol = map[uint32]model.ApplicationProtocol{
	PPIDS1AP: model.AppS1AP,
	PPIDX2AP: model.AppX2AP,
	PPIDDiameter: model.AppDiameter,
	PPIDNGAP: model.AppNGAP,
}

// ProtocolForPPID returns the protocol associated with a DATA chunk's PPID,
// and false if the PPID isn't one of the recognized ones.
func ProtocolForPPID(ppid uint32) (model.ApplicationProtocol, bool) {
	p, ok:= ppidProtocol[ppid]
	return p, ok
}

// SCTPDataChunk is one DATA chunk, already stripped of the common SCTP
// header and chunk header.
type SCTPDataChunk struct {
	StreamID uint16
	StreamSeq uint16
	PPID uint32
	Begin bool
	End bool
	Payload []byte
}

type sctpAssocKey struct {
	tuple model.FiveTuple
	verificationTag uint32
}

type sctpFragmentKey struct {
	streamID uint16
	ssn uint16
}

type sctpAssocState struct {
	fragments map[sctpFragmentKey][][]byte
	lastActivity time.Time
}

// SCTPMessage is one fully reassembled SCTP user message.
type SCTPMessage struct {
	StreamID uint16
	PPID uint32
	Payload []byte
}

// SCTPReassembler tracks per-association, per-stream DATA chunk reassembly
// keyed by (stream-id, SSN), as per-worker state.
type SCTPReassembler struct {
	assocs map[sctpAssocKey]*sctpAssocState
	timeout time.Duration
}

// DefaultSCTPAssocTimeout matches the 300s association eviction window
//.
const DefaultSCTPAssocTimeout = 300 * time.Second

func NewSCTPReassembler(timeout time.Duration) *SCTPReassembler {
	if timeout <= 0 {
		timeout = DefaultSCTPAssocTimeout
	}
	return &SCTPReassembler{assocs: make(map[sctpAssocKey]*sctpAssocState), timeout: timeout}
}

// Process feeds one DATA chunk into the association's reassembly state,
// returning the completed message and true once its final fragment arrives.
func (r *SCTPReassembler) Process(tuple model.FiveTuple, verificationTag uint32, chunk SCTPDataChunk, now time.Time) (SCTPMessage, bool) {
	key:= sctpAssocKey{tuple: tuple, verificationTag: verificationTag}
	assoc:= r.assocs[key]
	if assoc == nil {
		assoc = &sctpAssocState{fragments: make(map[sctpFragmentKey][][]byte)}
		r.assocs[key] = assoc
	}
	assoc.lastActivity = now

	fk:= sctpFragmentKey{streamID: chunk.StreamID, ssn: chunk.StreamSeq}

	if chunk.Begin && chunk.End {
		delete(assoc.fragments, fk)
		return SCTPMessage{StreamID: chunk.StreamID, PPID: chunk.PPID, Payload: chunk.Payload}, true
	}

	parts:= assoc.fragments[fk]
	parts = append(parts, chunk.Payload)
	assoc.fragments[fk] = parts

	if !chunk.End {
		return SCTPMessage{}, false
	}

	total:= 0
	for _, p:= range parts {
		total += len(p)
	}
	out:= make([]byte, 0, total)
	for _, p:= range parts {
		out = append(out, p...)
	}
	delete(assoc.fragments, fk)
	return SCTPMessage{StreamID: chunk.StreamID, PPID: chunk.PPID, Payload: out}, true
}

// Sweep removes associations untouched since before now.Add(-r.timeout).
func (r *SCTPReassembler) Sweep(now time.Time) int {
	removed:= 0
	threshold:= now.Add(-r.timeout)
	for k, a:= range r.assocs {
		if a.lastActivity.Before(threshold) {
			delete(r.assocs, k)
			removed++
		}
	}
	return removed
}

// AssocCount reports the number of tracked associations, for tests and
// diagnostics.
func (r *SCTPReassembler) AssocCount() int { return len(r.assocs) }

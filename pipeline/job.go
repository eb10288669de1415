package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/corepcap/mobilecore/capture"
	"github.com/corepcap/mobilecore/export"
	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/linklayer"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/portlearn"
	"github.com/corepcap/mobilecore/proto/http2"
	"github.com/corepcap/mobilecore/proto/rtp"
	"github.com/corepcap/mobilecore/reassembly"
	"github.com/corepcap/mobilecore/session"
	"github.com/corepcap/mobilecore/tunnel"
	"github.com/google/gopacket/layers"
)

// State is the closed set of lifecycle states a Job passes through. A job
// never leaves COMPLETED/FAILED once reached.
type State string

const (
	StateQueued State = "QUEUED"
	StateRunning State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed State = "FAILED"
)

// EventType distinguishes the three kinds of out-of-band notifications a
// running job emits.
type EventType string

const (
	EventStatus EventType = "status"
	EventProgress EventType = "progress"
	EventWarning EventType = "warning"
)

// Event is one notification delivered to a Runner's EventFunc callback.
type Event struct {
	JobID gid.JobID
	Type EventType
	State State
	PacketsProcessed uint64
	Message string
	At time.Time
}

// ProgressFunc is invoked every 1,000 packets processed, a coarser cadence
// than the finer-grained EventProgress events.
type ProgressFunc func(jobID gid.JobID, packetsProcessed uint64)

// EventFunc is invoked for every status/progress/warning event.
type EventFunc func(Event)

const (
	progressCallbackEvery = 1000
	progressEventEvery = 100
)

// http2ConnState pairs one HTTP/2 connection's frame state machine with the
// five-tuple its client side was first observed on, so later segments on
// either tuple of the same TCP connection route to the correct Direction.
type http2ConnState struct {
	conn *http2.Connection
	clientTuple model.FiveTuple
	haveClient bool
}

// Job is one capture file's processing run, owned exclusively by the single
// worker goroutine executing it: every field below except the
// correlator and tunnel manager is touched only from that goroutine.
type Job struct {
	ID gid.JobID
	Config Config
	InputPath string
	OutputPath string

	logger *slog.Logger

	onProgress ProgressFunc
	onEvent EventFunc

	mu sync.Mutex
	state State
	err error
	packetsProcessed uint64

	cancel context.CancelFunc

	correlator *session.Correlator
	tunnels *tunnel.Manager

	portLearn *portlearn.Tracker
	rtpTracker *rtp.Tracker
	diameterBufs *streamBuffers
	http2Bufs *streamBuffers

	ipReasm *reassembly.IPReassembler
	tcpReasm *reassembly.TCPReassembler
	sctpReasm *reassembly.SCTPReassembler

	http2Conns map[string]*http2ConnState
	flows map[model.FiveTuple]*model.Flow

	obs *capture.Observations
	ifaceKinds map[int]model.InterfaceKind
}

func newJob(id gid.JobID, cfg Config, inputPath, outputPath string, onProgress ProgressFunc, onEvent EventFunc, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		ID: id,
		Config: cfg,
		InputPath: inputPath,
		OutputPath: outputPath,
		logger: logger.With("job_id", id.String()),
		onProgress: onProgress,
		onEvent: onEvent,
		state: StateQueued,
		correlator: session.NewCorrelator(),
		tunnels: tunnel.NewManager(cfg.tunnelConfig()),
		portLearn: portlearn.NewTracker(0),
		rtpTracker: rtp.NewTracker(),
		diameterBufs: newStreamBuffers(),
		http2Bufs: newStreamBuffers(),
		ipReasm: reassembly.NewIPReassembler(0),
		tcpReasm: reassembly.NewTCPReassembler(0),
		sctpReasm: reassembly.NewSCTPReassembler(0),
		http2Conns: make(map[string]*http2ConnState),
		flows: make(map[model.FiveTuple]*model.Flow),
		obs: capture.NewObservations(),
		ifaceKinds: make(map[int]model.InterfaceKind),
	}
}

// State reports the job's current lifecycle state and terminal error, if
// any. Safe to call from any goroutine.
func (j *Job) State() (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.err
}

// PacketsProcessed reports the running packet count. Safe to call from any
// goroutine.
func (j *Job) PacketsProcessed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.packetsProcessed
}

// Sessions returns every master session correlated so far.
func (j *Job) Sessions() []*session.MasterSession {
	return j.correlator.Sessions()
}

// Stop cancels a running job; workers exit at the next packet boundary.
// The resulting Cancelled error marks this a clean, non-fatal exit.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel:= j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (j *Job) setState(s State, err error) {
	j.mu.Lock()
	j.state = s
	j.err = err
	j.mu.Unlock()
	j.emit(Event{Type: EventStatus, State: s, Message: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (j *Job) emit(evt Event) {
	evt.JobID = j.ID
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	j.mu.Lock()
	evt.PacketsProcessed = j.packetsProcessed
	j.mu.Unlock()
	if j.onEvent != nil {
		j.onEvent(evt)
	}
}

// warn reports a non-fatal parse/dispatch failure as a warning event: every
// ErrorKind but Io is localized to the offending record.
func (j *Job) warn(ctx dispatchContext, component string, err error) {
	j.logger.Debug("dispatch warning", "component", component, "frame", ctx.frameNumber, "error", err)
	j.emit(Event{Type: EventWarning, At: ctx.at, Message: component + ": " + err.Error()})
}

func (j *Job) warnf(ctx dispatchContext, format string, args...interface{}) {
	msg:= fmt.Sprintf(format, args...)
	j.logger.Debug("dispatch warning", "frame", ctx.frameNumber, "message", msg)
	j.emit(Event{Type: EventWarning, At: ctx.at, Message: msg})
}

// Run drives the job to completion: opens the capture, walks every frame
// through link-layer stripping, IP/TCP/SCTP reassembly, protocol dispatch
// and periodic table cleanup, until the source is exhausted or ctx is
// cancelled.
func (j *Job) Run(ctx context.Context) error {
	runCtx, cancel:= context.WithCancel(ctx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	defer cancel()

	j.setState(StateRunning, nil)

	source, err:= capture.Open(j.InputPath)
	if err != nil {
		wrapped:= perr.Wrap(perr.Io, "pipeline.Job.Run", err)
		j.setState(StateFailed, wrapped)
		return wrapped
	}
	defer source.Close()

	var lastCleanup time.Time
	for {
		select {
		case <-runCtx.Done():
			cancelled:= perr.New(perr.Cancelled, "pipeline.Job.Run", "job stopped")
			j.setState(StateFailed, cancelled)
			return cancelled
		default:
		}

		frame, ferr:= source.Next()
		if ferr == io.EOF {
			break
		}
		if ferr != nil {
			wrapped:= perr.Wrap(perr.Io, "pipeline.Job.Run", ferr)
			j.setState(StateFailed, wrapped)
			return wrapped
		}

		at:= time.Unix(0, frame.Timestamp)
		j.processFrame(source, frame, at)

		j.mu.Lock()
		j.packetsProcessed++
		n:= j.packetsProcessed
		j.mu.Unlock()

		if n%progressEventEvery == 0 {
			j.emit(Event{Type: EventProgress, At: at})
		}
		if n%progressCallbackEvery == 0 && j.onProgress != nil {
			j.onProgress(j.ID, n)
		}

		if lastCleanup.IsZero() {
			lastCleanup = at
		} else if at.Sub(lastCleanup) >= j.Config.CleanupInterval {
			j.cleanup(at)
			lastCleanup = at
		}
	}

	j.cleanup(time.Now())
	if j.OutputPath != "" {
		if _, werr:= export.WriteAll(j.OutputPath, j.correlator, j.tunnels); werr != nil {
			wrapped:= perr.Wrap(perr.Io, "pipeline.Job.Run", werr)
			j.setState(StateFailed, wrapped)
			return wrapped
		}
	}
	j.setState(StateCompleted, nil)
	return nil
}

func (j *Job) cleanup(now time.Time) {
	j.ipReasm.Sweep(now)
	j.tcpReasm.Sweep(now)
	j.sctpReasm.Sweep(now)
	j.portLearn.Sweep(now)
	j.tunnels.Sweep(now)
	for tuple, f:= range j.flows {
		if f.Expired(now, j.Config.FlowTimeout) {
			delete(j.flows, tuple)
		}
	}
}

func (j *Job) touchFlow(tuple model.FiveTuple, at time.Time, n int) *model.Flow {
	f:= j.flows[tuple]
	if f == nil {
		if len(j.flows) >= j.Config.MaxFlows {
			return nil
		}
		f = model.NewFlow(tuple, at)
		j.flows[tuple] = f
	}
	f.Touch(at, n)
	return f
}

// resolveInterfaceKind classifies frame's interface, caching the result
// once a non-UNKNOWN kind is determined. The evidence can only improve as
// more of the capture is observed, so an UNKNOWN verdict is retried on the
// next frame rather than cached.
func (j *Job) resolveInterfaceKind(source *capture.PacketSource, frame capture.Frame) model.InterfaceKind {
	if kind, ok:= j.ifaceKinds[frame.InterfaceID]; ok {
		return kind
	}
	var resolved *capture.ResolvedInterface
	for _, iface:= range source.Interfaces() {
		if iface.ID == frame.InterfaceID {
			resolved = iface
			break
		}
	}
	if resolved == nil {
		return model.InterfaceUnknown
	}
	kind:= capture.Classify(resolved, j.obs)
	if kind != model.InterfaceUnknown {
		j.ifaceKinds[frame.InterfaceID] = kind
	}
	return kind
}

func (j *Job) processFrame(source *capture.PacketSource, frame capture.Frame, at time.Time) {
	ifaceKind:= j.resolveInterfaceKind(source, frame)
	linkType:= linklayer.DLTEthernet
	for _, iface:= range source.Interfaces() {
		if iface.ID == frame.InterfaceID {
			linkType = iface.LinkType
			break
		}
	}

	stripped, err:= linklayer.Strip(frame.Data, linkType, 0)
	if err != nil {
		j.logger.Debug("link-layer strip failed", "frame", frame.FrameNumber, "error", err)
		return
	}
	ipData:= frame.Data[stripped.Offset:]

	var dg reassembly.Datagram
	var ok bool
	switch stripped.EtherType {
	case layers.EthernetTypeIPv4:
		dg, ok, err = j.ipReasm.ProcessIPv4(ipData, at)
	case layers.EthernetTypeIPv6:
		dg, ok, err = j.ipReasm.ProcessIPv6(ipData, at)
	default:
		return
	}
	if err != nil {
		j.logger.Debug("ip reassembly failed", "frame", frame.FrameNumber, "error", err)
		return
	}
	if !ok {
		return
	}

	switch dg.Protocol {
	case model.ProtoTCP:
		j.processTCP(dg, ifaceKind, frame, at)
	case model.ProtoUDP:
		j.processUDP(dg, ifaceKind, frame, at)
	case model.ProtoSCTP:
		j.processSCTP(dg, ifaceKind, frame, at)
	}
}

func (j *Job) processTCP(dg reassembly.Datagram, ifaceKind model.InterfaceKind, frame capture.Frame, at time.Time) {
	hdr, payload, err:= parseTCP(dg.Payload)
	if err != nil {
		j.logger.Debug("tcp parse failed", "frame", frame.FrameNumber, "error", err)
		return
	}
	tuple:= model.FiveTuple{SrcIP: ipToAddr(dg.SrcIP), DstIP: ipToAddr(dg.DstIP), SrcPort: hdr.SrcPort, DstPort: hdr.DstPort, Protocol: model.ProtoTCP}
	j.touchFlow(tuple, at, len(payload))

	chunks:= j.tcpReasm.Process(tuple, reassembly.TCPSegment{Seq: hdr.Seq, SYN: hdr.SYN, FIN: hdr.FIN, RST: hdr.RST, Payload: payload}, at)
	if hdr.RST || hdr.FIN {
		j.diameterBufs.drop(tuple)
		j.http2Bufs.drop(tuple)
	}
	if len(chunks) == 0 {
		return
	}

	ctx:= dispatchContext{at: at, frameNumber: frame.FrameNumber, ifaceKind: ifaceKind, tuple: tuple}

	switch {
	case hdr.SrcPort == portDiameterWellKnown || hdr.DstPort == portDiameterWellKnown:
		for _, chunk:= range chunks {
			j.dispatchDiameterStream(ctx, chunk)
		}
	case isHTTP2Candidate(ifaceKind, hdr.SrcPort, hdr.DstPort):
		j.obs.HTTPPortsSeen[hdr.DstPort] = true
		st:= j.http2ConnFor(tuple, hdr.SYN && !hdr.ACK)
		dir:= http2.DirRequest
		if tuple != st.clientTuple {
			dir = http2.DirResponse
		}
		for _, chunk:= range chunks {
			j.dispatchHTTP2Stream(ctx, dir, st.conn, chunk)
		}
	}
}

const portDiameterWellKnown = 3868

func isHTTP2Candidate(kind model.InterfaceKind, srcPort, dstPort uint16) bool {
	switch kind {
	case model.InterfaceSGi, model.InterfaceN6, model.InterfaceGi:
		return true
	}
	return srcPort == 80 || dstPort == 80 || srcPort == 443 || dstPort == 443
}

// http2ConnFor returns the Connection tracking tuple's TCP connection,
// creating one on first sight. isSYN marks tuple as the client->server
// direction for every later packet on either side of the same connection.
func (j *Job) http2ConnFor(tuple model.FiveTuple, isSYN bool) *http2ConnState {
	key:= bidiKey(tuple)
	st:= j.http2Conns[key]
	if st == nil {
		st = &http2ConnState{conn: http2.NewConnection()}
		j.http2Conns[key] = st
	}
	if isSYN || !st.haveClient {
		st.clientTuple = tuple
		st.haveClient = true
	}
	return st
}

func (j *Job) processUDP(dg reassembly.Datagram, ifaceKind model.InterfaceKind, frame capture.Frame, at time.Time) {
	hdr, payload, err:= parseUDP(dg.Payload)
	if err != nil {
		j.logger.Debug("udp parse failed", "frame", frame.FrameNumber, "error", err)
		return
	}
	tuple:= model.FiveTuple{SrcIP: ipToAddr(dg.SrcIP), DstIP: ipToAddr(dg.DstIP), SrcPort: hdr.SrcPort, DstPort: hdr.DstPort, Protocol: model.ProtoUDP}
	j.obs.UDPPorts[hdr.DstPort] = true
	j.obs.UDPPorts[hdr.SrcPort] = true
	j.touchFlow(tuple, at, len(payload))

	ctx:= dispatchContext{at: at, frameNumber: frame.FrameNumber, ifaceKind: ifaceKind, tuple: tuple}

	switch {
	case hdr.SrcPort == 2123 || hdr.DstPort == 2123:
		j.dispatchGTPv2(ctx, payload)
	case hdr.SrcPort == 2152 || hdr.DstPort == 2152:
		j.dispatchGTPU(ctx, payload)
	case ifaceKind == model.InterfaceIMS || hdr.SrcPort == 5060 || hdr.DstPort == 5060:
		j.dispatchSIP(ctx, payload)
	case looksLikeRTCP(payload):
		j.dispatchRTCP(ctx, payload)
	case rtp.ProbeRTP(payload):
		j.dispatchRTP(ctx, payload)
	}
}

func looksLikeRTCP(payload []byte) bool {
	return rtp.ProbeRTCP(payload) && !rtp.ProbeRTP(payload)
}

func (j *Job) processSCTP(dg reassembly.Datagram, ifaceKind model.InterfaceKind, frame capture.Frame, at time.Time) {
	hdr, chunkData, err:= parseSCTP(dg.Payload)
	if err != nil {
		j.logger.Debug("sctp parse failed", "frame", frame.FrameNumber, "error", err)
		return
	}
	tuple:= model.FiveTuple{SrcIP: ipToAddr(dg.SrcIP), DstIP: ipToAddr(dg.DstIP), SrcPort: hdr.SrcPort, DstPort: hdr.DstPort, Protocol: model.ProtoSCTP}
	j.obs.SCTPPorts[hdr.DstPort] = true
	j.obs.SCTPPorts[hdr.SrcPort] = true
	j.touchFlow(tuple, at, len(chunkData))

	chunks, cerr:= sctpDataChunks(chunkData)
	if cerr != nil {
		j.logger.Debug("sctp chunk walk failed", "frame", frame.FrameNumber, "error", cerr)
	}

	ctx:= dispatchContext{at: at, frameNumber: frame.FrameNumber, ifaceKind: ifaceKind, tuple: tuple}
	for _, chunk:= range chunks {
		msg, complete:= j.sctpReasm.Process(tuple, hdr.VerificationTag, chunk, at)
		if !complete {
			continue
		}
		if msg.PPID == reassembly.PPIDDiameter {
			j.obs.DiameterSeen = true
		}
		if msg.PPID == reassembly.PPIDNGAP {
			j.obs.FiveGIndicators = true
		}
		j.dispatchSCTP(ctx, msg.PPID, msg.Payload)
	}
}

// bidiKey canonicalizes a five-tuple to a direction-independent key, so both
// legs of one TCP connection share one http2.Connection/streamKey scope.
func bidiKey(t model.FiveTuple) string {
	a:= t.SrcIP.String() + ":" + strconv.Itoa(int(t.SrcPort))
	b:= t.DstIP.String() + ":" + strconv.Itoa(int(t.DstPort))
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// streamKey scopes an HTTP/2 stream id to its connection, mirroring
// session.streamKey's doc comment: a stream id alone is only unique within
// one connection.
func streamKey(t model.FiveTuple, streamID uint32) string {
	return bidiKey(t) + "#" + strconv.FormatUint(uint64(streamID), 10)
}

// ipToAddr converts a reassembled datagram's net.IP into the comparable
// netip.Addr model.FiveTuple stores, normalizing 4-in-6 forms so the same
// IPv4 address always compares equal regardless of which representation
// the reassembler produced it in.
func ipToAddr(ip net.IP) netip.Addr {
	addr, ok:= netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}

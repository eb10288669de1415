// Package tunnel implements the GTP tunnel manager and keep-alive
// aggregator: the per-uplink-TEID tunnel lifecycle state
// machine, handover detection, and lossy aggregation of long echo streams.
package tunnel

import (
	"net"
	"sync"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/proto/gtpv2"
)

// State is one of the closed set of GTP tunnel lifecycle states.
type State string

const (
	StateInactive State = "INACTIVE"
	StateCreating State = "CREATING"
	StateActive State = "ACTIVE"
	StateModifying State = "MODIFYING"
	StateDeleting State = "DELETING"
	StateDeleted State = "DELETED"
)

// VisualizationMode controls how the keep-alive aggregator's output is
// rendered downstream.
type VisualizationMode string

const (
	VizFull VisualizationMode = "FULL"
	VizAggregated VisualizationMode = "AGGREGATED"
	VizMinimal VisualizationMode = "MINIMAL"
)

// HandoverType distinguishes the carrying protocol of a detected handover.
// INVALID marks a negative-interruption artifact of cross-interface clock
// skew, preserved rather than dropped.
type HandoverType string

const (
	HandoverX2 HandoverType = "X2"
	HandoverS1 HandoverType = "S1"
	HandoverN2 HandoverType = "N2"
	HandoverQualityInvalid HandoverType = "INVALID"
)

// HandoverEvent records one detected mobility event.
type HandoverEvent struct {
	Timestamp time.Time
	OldTEID uint32
	NewTEID uint32
	OldENBIP net.IP
	NewENBIP net.IP
	Type HandoverType
	InterruptionMS int64
}

// Tunnel is a GTP tunnel's full state, identified by its uplink
// TEID for the lifetime of the state machine.
type Tunnel struct {
	ID gid.TunnelID
	UplinkTEID uint32
	DownlinkTEID uint32
	State State
	IMSI string
	UEIPv4 net.IP
	UEIPv6 net.IP
	APN string
	EPSBearerID uint8
	QCI uint8
	ENBIP net.IP

	Created time.Time
	Deleted *time.Time
	LastActivity time.Time

	EchoRequestCount int
	EchoResponseCount int
	TrackedIntervalMS float64

	UplinkPackets uint64
	UplinkBytes uint64
	DownlinkPackets uint64
	DownlinkBytes uint64

	Handovers []HandoverEvent
	Viz VisualizationMode

	echoes []EchoRecord
}

// IsDeleted reports whether the tunnel has reached its terminal state:
// state=DELETED implies Deleted is set.
func (t *Tunnel) IsDeleted() bool {
	return t.Deleted != nil && t.State == StateDeleted
}

// Config bounds and tunes the manager.
type Config struct {
	MaxTunnels int
	ActivityTimeout time.Duration
	EchoTimeoutMultiplier float64
	EnableHandoverDetection bool
	VisualizationMode VisualizationMode
}

// DefaultConfig returns a Config with practical default option values.
func DefaultConfig() Config {
	return Config{
		MaxTunnels: 100000,
		ActivityTimeout: 7200 * time.Second,
		EchoTimeoutMultiplier: 3.0,
		EnableHandoverDetection: true,
		VisualizationMode: VizAggregated,
	}
}

// Manager owns the tunnel table; it is shared across pipeline workers
// within a job behind a single coarse mutex with short critical sections.
type Manager struct {
	cfg Config

	mu sync.Mutex
	byUplink map[uint32]*Tunnel
	byIMSI map[string][]*Tunnel
	byID map[gid.TunnelID]*Tunnel
}

// NewManager constructs an empty tunnel table.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg: cfg,
		byUplink: make(map[uint32]*Tunnel),
		byIMSI: make(map[string][]*Tunnel),
		byID: make(map[gid.TunnelID]*Tunnel),
	}
}

// CarryingProtocol names the RAN protocol that delivered the triggering
// GTPv2 message, used to classify handover type.
type CarryingProtocol string

const (
	CarryingNone CarryingProtocol = ""
	CarryingS1AP CarryingProtocol = "S1AP"
	CarryingNGAP CarryingProtocol = "NGAP"
)

// Handle drives the tunnel state machine from one parsed GTPv2-C message.
// It returns any handover events detected as a side effect, plus a
// non-fatal *perr.ParseError for conditions the caller should log as a
// warning without aborting the job (StateViolation/Resource).
func (m *Manager) Handle(msg *gtpv2.Message, at time.Time, carrying CarryingProtocol) ([]HandoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.MessageType {
	case gtpv2.MsgCreateSessionRequest:
		return nil, m.handleCreateRequest(msg, at)
	case gtpv2.MsgCreateSessionResponse:
		return nil, m.handleCreateResponse(msg, at)
	case gtpv2.MsgModifyBearerRequest:
		return nil, m.handleModifyRequest(msg, at)
	case gtpv2.MsgModifyBearerResponse:
		return m.handleModifyResponse(msg, at, carrying)
	case gtpv2.MsgDeleteSessionRequest:
		return nil, m.handleDeleteRequest(msg, at)
	case gtpv2.MsgDeleteSessionResponse:
		return nil, m.handleDeleteResponse(msg, at)
	case gtpv2.MsgEchoRequest:
		return nil, m.handleEchoRequest(msg, at)
	case gtpv2.MsgEchoResponse:
		return nil, m.handleEchoResponse(msg, at)
	default:
		return nil, nil
	}
}

func (m *Manager) handleCreateRequest(msg *gtpv2.Message, at time.Time) error {
	if _, exists:= m.byUplink[msg.TEID]; exists {
		return perr.New(perr.StateViolation, "tunnel.Manager", "create-session request for existing TEID")
	}
	if len(m.byUplink) >= m.cfg.MaxTunnels {
		return perr.New(perr.Resource, "tunnel.Manager", "max_tunnels exceeded, refusing creation")
	}
	t:= &Tunnel{
		ID: gid.GenerateTunnelID(),
		UplinkTEID: msg.TEID,
		State: StateCreating,
		IMSI: msg.IMSI,
		APN: msg.APN,
		Created: at,
		LastActivity: at,
		Viz: m.cfg.VisualizationMode,
	}
	if msg.PAA != nil {
		if v4:= msg.PAA.To4(); v4 != nil {
			t.UEIPv4 = v4
		} else {
			t.UEIPv6 = msg.PAA
		}
	}
	if len(msg.BearerContexts) > 0 {
		bc:= msg.BearerContexts[0]
		t.EPSBearerID = bc.EBI
	}
	m.insert(t)
	return nil
}

func (m *Manager) insert(t *Tunnel) {
	m.byUplink[t.UplinkTEID] = t
	m.byID[t.ID] = t
	if t.IMSI != "" {
		m.byIMSI[t.IMSI] = append(m.byIMSI[t.IMSI], t)
	}
}

func (m *Manager) handleCreateResponse(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return perr.New(perr.StateViolation, "tunnel.Manager", "create-session response for unknown TEID")
	}
	if t.State != StateCreating {
		return perr.New(perr.StateViolation, "tunnel.Manager", "create-session response outside CREATING")
	}
	for _, bc:= range msg.BearerContexts {
		for _, f:= range bc.FTEIDs {
			if f.TEID != 0 {
				t.DownlinkTEID = f.TEID
			}
		}
	}
	t.State = StateActive
	t.LastActivity = at
	return nil
}

func (m *Manager) handleModifyRequest(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return perr.New(perr.StateViolation, "tunnel.Manager", "modify-bearer request for unknown TEID")
	}
	if t.State != StateActive {
		return perr.New(perr.StateViolation, "tunnel.Manager", "modify-bearer request outside ACTIVE")
	}
	t.State = StateModifying
	t.LastActivity = at
	return nil
}

func (m *Manager) handleDeleteRequest(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return perr.New(perr.StateViolation, "tunnel.Manager", "delete-session request for unknown TEID")
	}
	t.State = StateDeleting
	t.LastActivity = at
	return nil
}

func (m *Manager) handleDeleteResponse(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return perr.New(perr.StateViolation, "tunnel.Manager", "delete-session response for unknown TEID")
	}
	if t.State != StateDeleting {
		return perr.New(perr.StateViolation, "tunnel.Manager", "delete-session response outside DELETING")
	}
	t.State = StateDeleted
	deletedAt:= at
	t.Deleted = &deletedAt
	t.LastActivity = at
	finalizeKeepalives(t)
	return nil
}

func (m *Manager) handleEchoRequest(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return nil // echoes on unknown tunnels are common (peer-level keepalive); not an error
	}
	t.EchoRequestCount++
	t.LastActivity = at
	t.echoes = append(t.echoes, EchoRecord{RequestTime: at})
	return nil
}

func (m *Manager) handleEchoResponse(msg *gtpv2.Message, at time.Time) error {
	t, ok:= m.byUplink[msg.TEID]
	if !ok {
		return perr.New(perr.StateViolation, "tunnel.Manager", "echo response for unknown TEID")
	}
	idx:= lastUnresponded(t.echoes)
	if idx < 0 {
		return perr.New(perr.StateViolation, "tunnel.Manager", "echo response without matching request")
	}
	t.EchoResponseCount++
	t.LastActivity = at
	recordEchoResponse(t, idx, at)
	return nil
}

// Get returns the tunnel for an uplink TEID, if present.
func (m *Manager) Get(uplinkTEID uint32) (*Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok:= m.byUplink[uplinkTEID]
	return t, ok
}

// RecordDataPlane folds one GTP-U packet's size into its tunnel's traffic
// counters, keyed by whichever TEID the
// caller observed the user-plane packet carrying: the uplink TEID when the
// packet travels eNB/gNB-to-core, the downlink TEID otherwise. It reports
// false for an unrecognized TEID, which the caller should treat as a
// non-fatal warning.
func (m *Manager) RecordDataPlane(teid uint32, uplink bool, bytes int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok:= m.byUplink[teid]
	if !ok {
		for _, candidate:= range m.byUplink {
			if candidate.DownlinkTEID == teid {
				t = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		return false
	}
	if uplink {
		t.UplinkPackets++
		t.UplinkBytes += uint64(bytes)
	} else {
		t.DownlinkPackets++
		t.DownlinkBytes += uint64(bytes)
	}
	return true
}

// GetByID returns the tunnel with the given stable id, if present (used by
// the exporter to resolve a master session's TunnelIDs).
func (m *Manager) GetByID(id gid.TunnelID) (*Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok:= m.byID[id]
	return t, ok
}

// Snapshot returns a copy of every tunnel currently tracked, for export.
func (m *Manager) Snapshot() []*Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out:= make([]*Tunnel, 0, len(m.byUplink))
	for _, t:= range m.byUplink {
		out = append(out, t)
	}
	return out
}

// Sweep reaps tunnels inactive for longer than the configured activity
// timeout, transitioning them to INACTIVE state; it does not remove
// DELETED tunnels, which remain for export.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t:= range m.byUplink {
		if t.State == StateDeleted || t.State == StateInactive {
			continue
		}
		if now.Sub(t.LastActivity) > m.cfg.ActivityTimeout {
			t.State = StateInactive
		}
	}
}

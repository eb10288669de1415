// Package export renders a master session into an
// identifiers/participants/metrics/timeline record. No text format is
// prescribed by the core; this package emits JSON in its own record shape
// (see Record).
package export

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/session"
	"github.com/corepcap/mobilecore/slices"
	"github.com/corepcap/mobilecore/tunnel"
)

// Identifiers mirrors model.CorrelationKey's non-zero fields, omitting
// zero values so a partial session's record stays uncluttered.
type Identifiers struct {
	IMSI string `json:"imsi,omitempty"`
	MSISDN string `json:"msisdn,omitempty"`
	IMPI string `json:"impi,omitempty"`
	IMPU string `json:"impu,omitempty"`
	SUPI string `json:"supi,omitempty"`
	SUCI string `json:"suci,omitempty"`
	SIPCallID string `json:"sip_call_id,omitempty"`
	DiameterSession string `json:"diameter_session_id,omitempty"`
	ICID string `json:"icid,omitempty"`
	TEIDControl uint32 `json:"teid_control,omitempty"`
	TEIDUser uint32 `json:"teid_user,omitempty"`
	UEIPv4 string `json:"ue_ipv4,omitempty"`
	UEIPv6 string `json:"ue_ipv6,omitempty"`
	APN string `json:"apn,omitempty"`
	EPSBearerID uint8 `json:"eps_bearer_id,omitempty"`
}

// Participants lists the per-protocol child sessions folded into a master
// session, by their stable ids.
type Participants struct {
	Tunnels []string `json:"tunnels,omitempty"`
	SIPCalls []string `json:"sip_calls,omitempty"`
	DiameterDialogs []string `json:"diameter_dialogs,omitempty"`
	UEContexts []string `json:"ue_contexts,omitempty"`
	SBAInteractions []string `json:"sba_interactions,omitempty"`
}

// Metrics summarizes the session's GTP tunnel counters.
// Fields are zero when the session has no GTP tunnel participant.
type Metrics struct {
	UplinkPackets uint64 `json:"uplink_packets,omitempty"`
	UplinkBytes uint64 `json:"uplink_bytes,omitempty"`
	DownlinkPackets uint64 `json:"downlink_packets,omitempty"`
	DownlinkBytes uint64 `json:"downlink_bytes,omitempty"`
	EchoRequests int `json:"echo_requests,omitempty"`
	EchoResponses int `json:"echo_responses,omitempty"`
}

// TimelineEntry is one flattened, timestamp-sorted message reference.
type TimelineEntry struct {
	Timestamp string `json:"timestamp"`
	FrameNumber uint64 `json:"frame_number"`
	Interface string `json:"interface"`
	Protocol string `json:"protocol"`
	MessageType string `json:"message_type,omitempty"`
	SrcIP string `json:"src_ip,omitempty"`
	SrcPort int `json:"src_port,omitempty"`
	DstIP string `json:"dst_ip,omitempty"`
	DstPort int `json:"dst_port,omitempty"`
	ParsedData interface{} `json:"parsed_data,omitempty"`
}

// HandoverEntry mirrors tunnel.HandoverEvent for the GTP tunnel event
// timeline.
type HandoverEntry struct {
	Timestamp string `json:"timestamp"`
	OldTEID uint32 `json:"old_teid"`
	NewTEID uint32 `json:"new_teid"`
	Type string `json:"type"`
	InterruptionMS int64 `json:"interruption_ms"`
}

// TunnelRecord is one GTP tunnel's exported lifecycle.
type TunnelRecord struct {
	ID string `json:"id"`
	UplinkTEID uint32 `json:"uplink_teid"`
	State string `json:"state"`
	Handovers []HandoverEntry `json:"handovers,omitempty"`
}

// Record is the top-level per-master-session export shape: identifiers
// block, participants block, metrics block, timeline block, plus the GTP
// tunnel event timeline when the session carries one.
type Record struct {
	ID string `json:"id"`
	StartTime string `json:"start_time"`
	Identifiers Identifiers `json:"identifiers"`
	Participants Participants `json:"participants"`
	Metrics Metrics `json:"metrics"`
	Timeline []TimelineEntry `json:"timeline"`
	Tunnels []TunnelRecord `json:"tunnels,omitempty"`
}

// Build renders a master session into its exported Record, resolving child
// sessions through c and t to fill the participants and metrics blocks.
func Build(m *session.MasterSession, c *session.Correlator, t *tunnel.Manager) Record {
	rec:= Record{
		ID: m.ID.String(),
		StartTime: m.StartTime.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Identifiers: identifiersFrom(m.Key),
	}

	for id:= range m.TunnelIDs {
		rec.Participants.Tunnels = append(rec.Participants.Tunnels, id.String())
		if t != nil {
			if tun, ok:= t.GetByID(id); ok {
				rec.Metrics.UplinkPackets += tun.UplinkPackets
				rec.Metrics.UplinkBytes += tun.UplinkBytes
				rec.Metrics.DownlinkPackets += tun.DownlinkPackets
				rec.Metrics.DownlinkBytes += tun.DownlinkBytes
				rec.Metrics.EchoRequests += tun.EchoRequestCount
				rec.Metrics.EchoResponses += tun.EchoResponseCount
				rec.Tunnels = append(rec.Tunnels, tunnelRecord(tun))
			}
		}
	}
	for id:= range m.SIPCallIDs {
		rec.Participants.SIPCalls = append(rec.Participants.SIPCalls, id.String())
	}
	for id:= range m.DiameterDialogIDs {
		rec.Participants.DiameterDialogs = append(rec.Participants.DiameterDialogs, id.String())
	}
	for id:= range m.UEContextIDs {
		rec.Participants.UEContexts = append(rec.Participants.UEContexts, id.String())
	}
	for id:= range m.SBAInteractionIDs {
		rec.Participants.SBAInteractions = append(rec.Participants.SBAInteractions, id.String())
	}

	rec.Timeline = slices.Map(m.SortedTimeline(), timelineEntryFrom)

	return rec
}

func identifiersFrom(k model.CorrelationKey) Identifiers {
	return Identifiers{
		IMSI: k.IMSI, MSISDN: k.MSISDN, IMPI: k.IMPI, IMPU: k.IMPU,
		SUPI: k.SUPI, SUCI: k.SUCI, SIPCallID: k.SIPCallID,
		DiameterSession: k.DiameterSession, ICID: k.ICID,
		TEIDControl: k.TEIDControl, TEIDUser: k.TEIDUser,
		UEIPv4: k.UEIPv4, UEIPv6: k.UEIPv6, APN: k.APN,
		EPSBearerID: k.EPSBearerID,
	}
}

func timelineEntryFrom(ref model.SessionMessageRef) TimelineEntry {
	return TimelineEntry{
		Timestamp: ref.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		FrameNumber: ref.FrameNumber,
		Interface: string(ref.Interface),
		Protocol: string(ref.Protocol),
		MessageType: ref.MessageType,
		SrcIP: ref.SrcIP,
		SrcPort: ref.SrcPort,
		DstIP: ref.DstIP,
		DstPort: ref.DstPort,
		ParsedData: ref.ParsedData,
	}
}

func tunnelRecord(t *tunnel.Tunnel) TunnelRecord {
	return TunnelRecord{
		ID: t.ID.String(),
		UplinkTEID: t.UplinkTEID,
		State: string(t.State),
		Handovers: slices.Map(t.Handovers, handoverEntryFrom),
	}
}

func handoverEntryFrom(h tunnel.HandoverEvent) HandoverEntry {
	return HandoverEntry{
		Timestamp: h.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		OldTEID: h.OldTEID,
		NewTEID: h.NewTEID,
		Type: string(h.Type),
		InterruptionMS: h.InterruptionMS,
	}
}

// WriteFile renders rec to its own JSON file named after the master
// session's id under dir (the configured `output_dir`).
func WriteFile(dir string, rec Record) (string, error) {
	if err:= os.MkdirAll(dir, 0o755); err != nil {
		return "", perr.Wrap(perr.Io, "export.WriteFile", err)
	}
	path:= filepath.Join(dir, rec.ID+".json")
	data, err:= json.MarshalIndent(rec, "", " ")
	if err != nil {
		return "", perr.Wrap(perr.Malformed, "export.WriteFile", err)
	}
	if err:= os.WriteFile(path, data, 0o644); err != nil {
		return "", perr.Wrap(perr.Io, "export.WriteFile", err)
	}
	return path, nil
}

// WriteAll exports every session the correlator currently tracks to dir,
// returning the written file paths.
func WriteAll(dir string, c *session.Correlator, t *tunnel.Manager) ([]string, error) {
	var paths []string
	for _, m:= range c.Sessions() {
		rec:= Build(m, c, t)
		path, err:= WriteFile(dir, rec)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

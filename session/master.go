// Package session implements the cross-protocol correlator: it
// canonicalizes parsed protocol messages into master sessions keyed by
// whichever subscriber/bearer/dialog identifiers they carry, and maintains
// the per-protocol child sub-state machines (SIP call, Diameter dialog,
// S1AP/NGAP UE context, SBA interaction).
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/sets"
)

// MasterSession is the correlation root. Children are referenced
// by stable id rather than pointer, following a flat-arena design, so
// merges rewrite id sets instead of a pointer graph.
type MasterSession struct {
	ID gid.MasterSessionID
	Key model.CorrelationKey
	StartTime time.Time

	TunnelIDs sets.Set[gid.TunnelID]
	SIPCallIDs sets.Set[gid.SIPCallID]
	DiameterDialogIDs sets.Set[gid.DiameterDialogID]
	UEContextIDs sets.Set[gid.UEContextID]
	SBAInteractionIDs sets.Set[gid.SBAInteractionID]

	Timeline []model.SessionMessageRef
}

func newMasterSession(at time.Time) *MasterSession {
	return &MasterSession{
		ID: gid.GenerateMasterSessionID(),
		StartTime: at,
		TunnelIDs: sets.NewSet[gid.TunnelID](),
		SIPCallIDs: sets.NewSet[gid.SIPCallID](),
		DiameterDialogIDs: sets.NewSet[gid.DiameterDialogID](),
		UEContextIDs: sets.NewSet[gid.UEContextID](),
		SBAInteractionIDs: sets.NewSet[gid.SBAInteractionID](),
	}
}

// SortedTimeline returns the session's timeline sorted by timestamp
// ascending, ties broken by frame number.
func (m *MasterSession) SortedTimeline() []model.SessionMessageRef {
	out:= make([]model.SessionMessageRef, len(m.Timeline))
	copy(out, m.Timeline)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].FrameNumber < out[j].FrameNumber
	})
	return out
}

// absorb merges other into m: union of id sets, earlier start time, and the
// concatenated timeline (re-sorted lazily at emit time, not insert time).
// The result's identifier set is the union and its timeline is the union
// of both.
func (m *MasterSession) absorb(other *MasterSession) {
	if other.StartTime.Before(m.StartTime) {
		m.StartTime = other.StartTime
	}
	m.Key = m.Key.Merge(other.Key)
	m.TunnelIDs.Union(other.TunnelIDs)
	m.SIPCallIDs.Union(other.SIPCallIDs)
	m.DiameterDialogIDs.Union(other.DiameterDialogIDs)
	m.UEContextIDs.Union(other.UEContextIDs)
	m.SBAInteractionIDs.Union(other.SBAInteractionIDs)
	m.Timeline = append(m.Timeline, other.Timeline...)
}

// Correlator owns the master-session table and every child arena. It is
// shared across pipeline workers within a job behind a single coarse mutex
// with short critical sections.
type Correlator struct {
	mu sync.Mutex

	masters map[gid.MasterSessionID]*MasterSession

	sipCalls map[gid.SIPCallID]*SIPCall
	diameterDialogs map[gid.DiameterDialogID]*DiameterDialog
	ueContexts map[gid.UEContextID]*UEContext
	sbaInteractions map[gid.SBAInteractionID]*SBAInteraction

	byIMSI map[string]gid.MasterSessionID
	byMSISDN map[string]gid.MasterSessionID
	byIMPI map[string]gid.MasterSessionID
	byIMPU map[string]gid.MasterSessionID
	bySUPI map[string]gid.MasterSessionID
	bySIPCallID map[string]gid.MasterSessionID
	byDiameter map[string]gid.MasterSessionID
	byICID map[string]gid.MasterSessionID
	byTEIDCtrl map[uint32]gid.MasterSessionID
	byTEIDUser map[uint32]gid.MasterSessionID
	byUEIPv4 map[string]gid.MasterSessionID
	byUEIPv6 map[string]gid.MasterSessionID
}

// NewCorrelator constructs an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		masters: make(map[gid.MasterSessionID]*MasterSession),
		sipCalls: make(map[gid.SIPCallID]*SIPCall),
		diameterDialogs: make(map[gid.DiameterDialogID]*DiameterDialog),
		ueContexts: make(map[gid.UEContextID]*UEContext),
		sbaInteractions: make(map[gid.SBAInteractionID]*SBAInteraction),
		byIMSI: make(map[string]gid.MasterSessionID),
		byMSISDN: make(map[string]gid.MasterSessionID),
		byIMPI: make(map[string]gid.MasterSessionID),
		byIMPU: make(map[string]gid.MasterSessionID),
		bySUPI: make(map[string]gid.MasterSessionID),
		bySIPCallID: make(map[string]gid.MasterSessionID),
		byDiameter: make(map[string]gid.MasterSessionID),
		byICID: make(map[string]gid.MasterSessionID),
		byTEIDCtrl: make(map[uint32]gid.MasterSessionID),
		byTEIDUser: make(map[uint32]gid.MasterSessionID),
		byUEIPv4: make(map[string]gid.MasterSessionID),
		byUEIPv6: make(map[string]gid.MasterSessionID),
	}
}

// candidateMatches returns the distinct master sessions that key's non-zero
// identifiers already resolve to, checked in priority order: IMSI, MSISDN,
// SUPI, IMPI, IMPU, SIP Call-ID, Diameter Session-Id, ICID, TEID, UE IP.
func (c *Correlator) candidateMatches(key model.CorrelationKey) []gid.MasterSessionID {
	var matches []gid.MasterSessionID
	seen:= make(map[gid.MasterSessionID]bool)
	add:= func(id gid.MasterSessionID, ok bool) {
		if ok && !seen[id] {
			seen[id] = true
			matches = append(matches, id)
		}
	}
	if key.IMSI != "" {
		id, ok:= c.byIMSI[key.IMSI]
		add(id, ok)
	}
	if key.MSISDN != "" {
		id, ok:= c.byMSISDN[key.MSISDN]
		add(id, ok)
	}
	if key.SUPI != "" {
		id, ok:= c.bySUPI[key.SUPI]
		add(id, ok)
	}
	if key.IMPI != "" {
		id, ok:= c.byIMPI[key.IMPI]
		add(id, ok)
	}
	if key.IMPU != "" {
		id, ok:= c.byIMPU[key.IMPU]
		add(id, ok)
	}
	if key.SIPCallID != "" {
		id, ok:= c.bySIPCallID[key.SIPCallID]
		add(id, ok)
	}
	if key.DiameterSession != "" {
		id, ok:= c.byDiameter[key.DiameterSession]
		add(id, ok)
	}
	if key.ICID != "" {
		id, ok:= c.byICID[key.ICID]
		add(id, ok)
	}
	if key.TEIDControl != 0 {
		id, ok:= c.byTEIDCtrl[key.TEIDControl]
		add(id, ok)
	}
	if key.TEIDUser != 0 {
		id, ok:= c.byTEIDUser[key.TEIDUser]
		add(id, ok)
	}
	// UE IP matching is opportunistic and scoped to already-active sessions
	// — it only ever confirms a match found above or joins an
	// existing session, never originates a brand-new one on its own.
	if key.UEIPv4 != "" {
		if id, ok:= c.byUEIPv4[key.UEIPv4]; ok {
			add(id, true)
		}
	}
	if key.UEIPv6 != "" {
		if id, ok:= c.byUEIPv6[key.UEIPv6]; ok {
			add(id, true)
		}
	}
	return matches
}

// reindex (re-)publishes every non-zero identifier of m into the lookup
// tables.
func (c *Correlator) reindex(m *MasterSession) {
	k:= m.Key
	if k.IMSI != "" {
		c.byIMSI[k.IMSI] = m.ID
	}
	if k.MSISDN != "" {
		c.byMSISDN[k.MSISDN] = m.ID
	}
	if k.SUPI != "" {
		c.bySUPI[k.SUPI] = m.ID
	}
	if k.IMPI != "" {
		c.byIMPI[k.IMPI] = m.ID
	}
	if k.IMPU != "" {
		c.byIMPU[k.IMPU] = m.ID
	}
	if k.SIPCallID != "" {
		c.bySIPCallID[k.SIPCallID] = m.ID
	}
	if k.DiameterSession != "" {
		c.byDiameter[k.DiameterSession] = m.ID
	}
	if k.ICID != "" {
		c.byICID[k.ICID] = m.ID
	}
	if k.TEIDControl != 0 {
		c.byTEIDCtrl[k.TEIDControl] = m.ID
	}
	if k.TEIDUser != 0 {
		c.byTEIDUser[k.TEIDUser] = m.ID
	}
	if k.UEIPv4 != "" {
		c.byUEIPv4[k.UEIPv4] = m.ID
	}
	if k.UEIPv6 != "" {
		c.byUEIPv6[k.UEIPv6] = m.ID
	}
}

// Merge is the entry point every protocol ingestion path calls: it resolves
// key against existing master sessions (possibly several, which are merged
// into one survivor), creates a new master if none match, appends ref to
// its timeline, and republishes the unioned identifier set into the lookup
// tables.
func (c *Correlator) Merge(key model.CorrelationKey, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	matches:= c.candidateMatches(key)

	var survivor *MasterSession
	if len(matches) == 0 {
		survivor = newMasterSession(at)
		c.masters[survivor.ID] = survivor
	} else {
		survivor = c.masters[matches[0]]
		for _, id:= range matches[1:] {
			if id == survivor.ID {
				continue
			}
			other, ok:= c.masters[id]
			if !ok {
				continue
			}
			survivor.absorb(other)
			delete(c.masters, id)
		}
	}

	survivor.Key = survivor.Key.Merge(key)
	ref.Correlation = survivor.Key
	survivor.Timeline = append(survivor.Timeline, ref)
	c.reindex(survivor)
	return survivor
}

// Get returns a master session by id.
func (c *Correlator) Get(id gid.MasterSessionID) (*MasterSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok:= c.masters[id]
	return m, ok
}

// Sessions returns every master session currently tracked.
func (c *Correlator) Sessions() []*MasterSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out:= make([]*MasterSession, 0, len(c.masters))
	for _, m:= range c.masters {
		out = append(out, m)
	}
	return out
}

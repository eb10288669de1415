package session

import (
	"fmt"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/nas"
	"github.com/corepcap/mobilecore/proto/ran"
)

// UEContext is the per-(eNB/AMF, UE id) child session: it
// collects the NAS PDUs carried inside S1AP/NGAP signalling, which are
// re-parsed and merged into the UE's NAS timeline.
type UEContext struct {
	ID gid.UEContextID
	Key string
	ENBUES1APID uint32
	MMEUES1APID uint32
	RANUENGAPID uint32
	AMFUENGAPID uint32
	IMSI string
	NASMessages []*nas.Message
}

func (c *Correlator) findOrCreateUEContext(key string) *UEContext {
	for _, existing:= range c.ueContexts {
		if existing.Key == key {
			return existing
		}
	}
	uc:= &UEContext{ID: gid.GenerateUEContextID(), Key: key}
	c.ueContexts[uc.ID] = uc
	return uc
}

// UpsertS1AP updates (or creates) the UE context keyed by the
// (eNB-UE-S1AP-ID, MME-UE-S1AP-ID) pair, re-parses any embedded NAS-PDU,
// and merges into the owning master session.
func (c *Correlator) UpsertS1AP(msg *ran.S1APMessage, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	key:= fmt.Sprintf("s1ap:%d:%d", msg.ENBUES1APID, msg.MMEUES1APID)
	uc:= c.findOrCreateUEContext(key)
	uc.ENBUES1APID = msg.ENBUES1APID
	uc.MMEUES1APID = msg.MMEUES1APID

	var imsi string
	if len(msg.NASPDU) > 0 {
		if nasMsg, err:= nas.Parse(msg.NASPDU); err == nil {
			uc.NASMessages = append(uc.NASMessages, nasMsg)
			imsi = firstIMSI(nasMsg)
			if imsi != "" {
				uc.IMSI = imsi
			}
		}
	}
	id:= uc.ID
	ctxIMSI:= uc.IMSI
	c.mu.Unlock()

	corrKey:= model.CorrelationKey{
		IMSI: ctxIMSI,
		ENBUES1APID: msg.ENBUES1APID,
		MMEUES1APID: msg.MMEUES1APID,
		TEIDUser: teidFromERABs(msg),
	}
	m:= c.Merge(corrKey, ref, at)

	c.mu.Lock()
	m.UEContextIDs.Insert(id)
	c.mu.Unlock()
	return m
}

// UpsertNGAP is UpsertS1AP's 5G analogue, keyed by the
// (RAN-UE-NGAP-ID, AMF-UE-NGAP-ID) pair.
func (c *Correlator) UpsertNGAP(msg *ran.NGAPMessage, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	key:= fmt.Sprintf("ngap:%d:%d", msg.RANUENGAPID, msg.AMFUENGAPID)
	uc:= c.findOrCreateUEContext(key)
	uc.RANUENGAPID = msg.RANUENGAPID
	uc.AMFUENGAPID = msg.AMFUENGAPID

	var imsi, supi string
	if len(msg.NASPDU) > 0 {
		if nasMsg, err:= nas.Parse(msg.NASPDU); err == nil {
			uc.NASMessages = append(uc.NASMessages, nasMsg)
			supi = firstSUCI(nasMsg)
		}
	}
	id:= uc.ID
	_ = imsi
	c.mu.Unlock()

	corrKey:= model.CorrelationKey{
		SUCI: supi,
		RANUENGAPID: msg.RANUENGAPID,
		AMFUENGAPID: msg.AMFUENGAPID,
	}
	m:= c.Merge(corrKey, ref, at)

	c.mu.Lock()
	m.UEContextIDs.Insert(id)
	c.mu.Unlock()
	return m
}

// UpsertX2AP folds an X2AP handover message into the UE context keyed by
// the (old eNB-UE-X2AP-ID, new eNB-UE-X2AP-ID) pair, correlating on the
// handover target's TEID when the message carries one.
func (c *Correlator) UpsertX2AP(msg *ran.X2APMessage, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	key:= fmt.Sprintf("x2ap:%d:%d", msg.OldENBUEX2APID, msg.NewENBUEX2APID)
	uc:= c.findOrCreateUEContext(key)
	id:= uc.ID
	c.mu.Unlock()

	corrKey:= model.CorrelationKey{TEIDUser: msg.TEID}
	m:= c.Merge(corrKey, ref, at)

	c.mu.Lock()
	m.UEContextIDs.Insert(id)
	c.mu.Unlock()
	return m
}

func firstIMSI(m *nas.Message) string {
	for _, id:= range m.Identities {
		if id.Type == nas.IdentityIMSI && id.Digits != "" {
			return id.Digits
		}
	}
	return ""
}

func firstSUCI(m *nas.Message) string {
	for _, id:= range m.Identities {
		if id.Type == nas.Identity5GSUCI && id.Digits != "" {
			return id.Digits
		}
	}
	return ""
}

func teidFromERABs(msg *ran.S1APMessage) uint32 {
	for _, erab:= range msg.ERABsToSetup {
		if erab.TEID != 0 {
			return erab.TEID
		}
	}
	for _, erab:= range msg.ERABsSetup {
		if erab.TEID != 0 {
			return erab.TEID
		}
	}
	return 0
}

package session

import (
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/diameter"
)

// DiameterDialog is the per-Session-Id child session: command
// pairs (CCR/CCA, AAR/AAA) update a counter of outstanding requests.
type DiameterDialog struct {
	ID gid.DiameterDialogID
	SessionID string
	OutstandingRequests int
	MSISDN string
	IMSI string
}

// UpsertDiameter updates (or creates) the dialog for msg.SessionID,
// tracks outstanding request/answer pairing, harvests MSISDN/IMSI from
// Subscription-Id AVPs, and merges it into the owning master session.
func (c *Correlator) UpsertDiameter(msg *diameter.Message, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	var dlg *DiameterDialog
	for _, existing:= range c.diameterDialogs {
		if existing.SessionID == msg.SessionID {
			dlg = existing
			break
		}
	}
	if dlg == nil {
		dlg = &DiameterDialog{ID: gid.GenerateDiameterDialogID(), SessionID: msg.SessionID}
		c.diameterDialogs[dlg.ID] = dlg
	}
	if msg.IsRequest {
		dlg.OutstandingRequests++
	} else if dlg.OutstandingRequests > 0 {
		dlg.OutstandingRequests--
	}
	if msisdn, ok:= msg.MSISDN(); ok {
		dlg.MSISDN = msisdn
	}
	if imsi, ok:= msg.IMSI(); ok {
		dlg.IMSI = imsi
	}
	id:= dlg.ID
	msisdn, imsi:= dlg.MSISDN, dlg.IMSI
	c.mu.Unlock()

	key:= model.CorrelationKey{DiameterSession: msg.SessionID, MSISDN: msisdn, IMSI: imsi}
	m:= c.Merge(key, ref, at)

	c.mu.Lock()
	m.DiameterDialogIDs.Insert(id)
	c.mu.Unlock()
	return m
}

package session

import (
	"time"

	"github.com/corepcap/mobilecore/model"
)

// UpsertRTP folds one observed RTP/RTCP stream's stats into the SIP call
// session it was port-learned against. A stream observed before its
// SDP-announced call is known (no callID) has nowhere to correlate to yet;
// the caller keeps tracking it in
// proto/rtp.Tracker regardless and retries correlation on the next packet.
func (c *Correlator) UpsertRTP(callID string, ref model.SessionMessageRef, at time.Time) *MasterSession {
	if callID == "" {
		return nil
	}
	return c.Merge(model.CorrelationKey{SIPCallID: callID}, ref, at)
}

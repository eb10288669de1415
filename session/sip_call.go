package session

import (
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/sip"
)

// SIPCallState is the dialog state machine driven off SIP method/status.
type SIPCallState string

const (
	SIPCallInviting SIPCallState = "INVITING"
	SIPCallRinging SIPCallState = "RINGING"
	SIPCallAnswered SIPCallState = "ANSWERED"
	SIPCallTerminated SIPCallState = "TERMINATED"
)

// SIPCall is the per-Call-ID child session.
type SIPCall struct {
	ID gid.SIPCallID
	CallID string
	State SIPCallState
	MSISDN string
	InviteTime time.Time
	AnswerTime time.Time
	SetupTime time.Duration
}

// UpsertSIP updates (or creates) the SIPCall for msg.CallID, drives its
// state machine, harvests MSISDN from From/To/P-Asserted-Identity, and
// merges it into the owning master session.
func (c *Correlator) UpsertSIP(msg *sip.Message, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	var call *SIPCall
	for _, existing:= range c.sipCalls {
		if existing.CallID == msg.CallID {
			call = existing
			break
		}
	}
	if call == nil {
		call = &SIPCall{ID: gid.GenerateSIPCallID(), CallID: msg.CallID, State: SIPCallInviting}
		c.sipCalls[call.ID] = call
	}
	advanceSIPCallState(call, msg, at)
	if msisdn:= harvestMSISDN(msg); msisdn != "" {
		call.MSISDN = msisdn
	}
	id:= call.ID
	msisdn:= call.MSISDN
	c.mu.Unlock()

	key:= model.CorrelationKey{SIPCallID: msg.CallID, MSISDN: msisdn}
	m:= c.Merge(key, ref, at)

	c.mu.Lock()
	m.SIPCallIDs.Insert(id)
	c.mu.Unlock()
	return m
}

func advanceSIPCallState(call *SIPCall, msg *sip.Message, at time.Time) {
	switch {
	case msg.IsRequest && msg.Method == "INVITE":
		if call.InviteTime.IsZero() {
			call.InviteTime = at
		}
		call.State = SIPCallInviting
	case !msg.IsRequest && msg.StatusCode == 180:
		if call.State == SIPCallInviting {
			call.State = SIPCallRinging
		}
	case !msg.IsRequest && msg.StatusCode == 200 && msg.CSeqMethod == "INVITE":
		call.State = SIPCallAnswered
		if call.AnswerTime.IsZero() {
			call.AnswerTime = at
			if !call.InviteTime.IsZero() {
				call.SetupTime = at.Sub(call.InviteTime)
			}
		}
	case msg.IsRequest && (msg.Method == "BYE" || msg.Method == "CANCEL"):
		call.State = SIPCallTerminated
	}
}

// harvestMSISDN extracts a phone-number-looking username from
// P-Asserted-Identity first, then From.
func harvestMSISDN(msg *sip.Message) string {
	for _, id:= range msg.PAssertedIdentity {
		if looksLikeMSISDN(id.Username) {
			return id.Username
		}
	}
	if looksLikeMSISDN(msg.From.Username) {
		return msg.From.Username
	}
	return ""
}

func looksLikeMSISDN(s string) bool {
	if len(s) < 6 {
		return false
	}
	for _, r:= range s {
		if (r < '0' || r > '9') && r != '+' {
			return false
		}
	}
	return true
}

// Package portlearn implements C7: learning dynamically negotiated RTP/RTCP
// ports from SDP bodies carried in SIP signaling, so that subsequent UDP
// packets on those ports can be classified without a static port list.
package portlearn

import "time"

// DefaultEntryTTL is the 5-minute expiry for a learned port registration
//.
const DefaultEntryTTL = 5 * time.Minute

type portKey struct {
	ip string
	port uint16
}

type entry struct {
	callID string
	registeredAt time.Time
}

// Tracker maps negotiated media ports back to the SIP Call-ID that
// negotiated them, expiring stale entries after DefaultEntryTTL.
type Tracker struct {
	entries map[portKey]entry
	ttl time.Duration
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &Tracker{entries: make(map[portKey]entry), ttl: ttl}
}

// Register records that ip:port was negotiated for media tied to callID at
// observation time now.
func (t *Tracker) Register(ip string, port uint16, callID string, now time.Time) {
	t.entries[portKey{ip: ip, port: port}] = entry{callID: callID, registeredAt: now}
}

// Lookup reports whether ip:port is a currently-registered RTP/RTCP port and
// the Call-ID it belongs to, applying the TTL as of now.
func (t *Tracker) Lookup(ip string, port uint16, now time.Time) (callID string, ok bool) {
	k:= portKey{ip: ip, port: port}
	e, found:= t.entries[k]
	if !found {
		return "", false
	}
	if now.Sub(e.registeredAt) > t.ttl {
		delete(t.entries, k)
		return "", false
	}
	return e.callID, true
}

// Sweep removes entries older than the TTL as of now.
func (t *Tracker) Sweep(now time.Time) int {
	removed:= 0
	for k, e:= range t.entries {
		if now.Sub(e.registeredAt) > t.ttl {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Count reports the number of currently registered ports, for diagnostics.
func (t *Tracker) Count() int { return len(t.entries) }

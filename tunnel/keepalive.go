package tunnel

import "time"

// EchoRecord is one GTP Echo Request/Response pair as tracked against a
// tunnel.
type EchoRecord struct {
	RequestTime time.Time
	ResponseTime *time.Time
	IsTimeout bool
	ShowIndividually bool
}

// AggregatedKeepalive summarizes a maximal run of consecutive, unflagged
// echo records.
type AggregatedKeepalive struct {
	StartTime time.Time
	EndTime time.Time
	EchoCount int
	AvgIntervalMS float64
	AllSuccessful bool
}

const defaultTrackedIntervalTimeout = 15 * time.Minute

// lastUnresponded returns the index of the most recent echo record with no
// response and no timeout flag yet, or -1.
func lastUnresponded(echoes []EchoRecord) int {
	for i:= len(echoes) - 1; i >= 0; i-- {
		if echoes[i].ResponseTime == nil && !echoes[i].IsTimeout {
			return i
		}
	}
	return -1
}

// recordEchoResponse fills in the response time for echoes[idx], updates
// the tunnel's tracked inter-echo interval, and flags the echo
// individually when the observed interval diverges from the tracked one
// by more than 20%.
func recordEchoResponse(t *Tunnel, idx int, at time.Time) {
	respAt:= at
	t.echoes[idx].ResponseTime = &respAt

	if idx == 0 {
		return
	}
	prevReq:= t.echoes[idx-1].RequestTime
	intervalMS:= float64(t.echoes[idx].RequestTime.Sub(prevReq).Milliseconds())
	if intervalMS <= 0 {
		return
	}
	if t.TrackedIntervalMS == 0 {
		t.TrackedIntervalMS = intervalMS
		return
	}
	delta:= intervalMS - t.TrackedIntervalMS
	if delta < 0 {
		delta = -delta
	}
	if delta/t.TrackedIntervalMS > 0.20 {
		t.echoes[idx].ShowIndividually = true
		t.TrackedIntervalMS = intervalMS
	}
}

// finalizeKeepalives detects timeouts by comparing request gaps to 3× the
// tracked interval (or the 15-minute default when no interval is yet
// known), flags the first and last echo, and groups the remainder into
// maximal runs of consecutive unflagged records.
func finalizeKeepalives(t *Tunnel) {
	n:= len(t.echoes)
	if n == 0 {
		return
	}

	timeoutThreshold:= defaultTrackedIntervalTimeout
	if t.TrackedIntervalMS > 0 {
		timeoutThreshold = time.Duration(t.TrackedIntervalMS*3) * time.Millisecond
	}
	for i:= 0; i < n-1; i++ {
		if t.echoes[i].ResponseTime != nil {
			continue
		}
		gap:= t.echoes[i+1].RequestTime.Sub(t.echoes[i].RequestTime)
		if gap > timeoutThreshold {
			t.echoes[i].IsTimeout = true
			t.echoes[i].ShowIndividually = true
		}
	}
	// An unresponded final echo with no successor to measure against is a
	// timeout by definition.
	if t.echoes[n-1].ResponseTime == nil {
		t.echoes[n-1].IsTimeout = true
		t.echoes[n-1].ShowIndividually = true
	}

	t.echoes[0].ShowIndividually = true
	t.echoes[n-1].ShowIndividually = true
}

// Echoes returns the tunnel's raw echo records (for FULL visualization).
func (t *Tunnel) Echoes() []EchoRecord {
	return t.echoes
}

// AggregatedKeepalives groups the tunnel's echo records: flagged records
// (first, last, interval-change, timeout) pass through individually; the
// remaining maximal runs of consecutive unflagged records become
// AggregatedKeepalive summaries.
func (t *Tunnel) AggregatedKeepalives() []AggregatedKeepalive {
	var runs []AggregatedKeepalive
	var run []EchoRecord
	flush:= func() {
		if len(run) == 0 {
			return
		}
		runs = append(runs, summarizeRun(run))
		run = nil
	}
	for _, e:= range t.echoes {
		if e.ShowIndividually {
			flush()
			continue
		}
		run = append(run, e)
	}
	flush()
	return runs
}

func summarizeRun(run []EchoRecord) AggregatedKeepalive {
	agg:= AggregatedKeepalive{
		StartTime: run[0].RequestTime,
		EndTime: run[len(run)-1].RequestTime,
		EchoCount: len(run),
		AllSuccessful: true,
	}
	var totalMS float64
	count:= 0
	for i, e:= range run {
		if e.IsTimeout || e.ResponseTime == nil {
			agg.AllSuccessful = false
		}
		if i > 0 {
			totalMS += float64(e.RequestTime.Sub(run[i-1].RequestTime).Milliseconds())
			count++
		}
	}
	if count > 0 {
		agg.AvgIntervalMS = totalMS / float64(count)
	}
	return agg
}

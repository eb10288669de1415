package pipeline

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildClassicPCAP assembles a minimal classic-format PCAP file (one
// Ethernet/IPv4/UDP/GTPv2-C Echo Request frame) so Job.Run can be exercised
// end to end without a real capture fixture on disk.
func buildClassicPCAP(t *testing.T) string {
	t.Helper()

	// GTPv2-C Echo Request: version=2, no TEID, sequence number 1.
	gtp:= []byte{0x40, 0x01, 0x00, 0x04, 0x00, 0x00, 0x01, 0x00}

	udp:= make([]byte, 8+len(gtp))
	binary.BigEndian.PutUint16(udp[0:2], 2123)
	binary.BigEndian.PutUint16(udp[2:4], 2123)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], gtp)

	ip:= make([]byte, 20+len(udp))
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)))
	ip[8] = 64 // TTL
	ip[9] = 17 // UDP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})
	copy(ip[20:], udp)

	eth:= make([]byte, 14+len(ip))
	copy(eth[0:6], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	copy(eth[6:12], []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	binary.BigEndian.PutUint16(eth[12:14], 0x0800) // IPv4
	copy(eth[14:], ip)

	globalHdr:= make([]byte, 24)
	binary.LittleEndian.PutUint32(globalHdr[0:4], 0xA1B2C3D4)
	binary.LittleEndian.PutUint16(globalHdr[4:6], 2)
	binary.LittleEndian.PutUint16(globalHdr[6:8], 4)
	binary.LittleEndian.PutUint32(globalHdr[16:20], 65535) // snaplen
	binary.LittleEndian.PutUint32(globalHdr[20:24], 1) // LINKTYPE_ETHERNET

	recHdr:= make([]byte, 16)
	binary.LittleEndian.PutUint32(recHdr[8:12], uint32(len(eth)))
	binary.LittleEndian.PutUint32(recHdr[12:16], uint32(len(eth)))

	data:= append(globalHdr, recHdr...)
	data = append(data, eth...)

	path:= filepath.Join(t.TempDir(), "test.pcap")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestJobRunProcessesSingleFrame(t *testing.T) {
	path:= buildClassicPCAP(t)
	var events []Event
	j:= newJob(gid.GenerateJobID(), DefaultConfig(), path, "", nil, func(e Event) { events = append(events, e) }, nil)

	err:= j.Run(context.Background())
	require.NoError(t, err)

	st, jerr:= j.State()
	assert.Equal(t, StateCompleted, st)
	assert.NoError(t, jerr)
	assert.Equal(t, uint64(1), j.PacketsProcessed())

	sessions:= j.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Timeline, 1)

	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0].Type)
}

func TestJobRunFailsOnMissingFile(t *testing.T) {
	j:= newJob(gid.GenerateJobID(), DefaultConfig(), "/nonexistent/path.pcap", "", nil, nil, nil)
	err:= j.Run(context.Background())
	require.Error(t, err)

	st, jerr:= j.State()
	assert.Equal(t, StateFailed, st)
	assert.Error(t, jerr)
}

func TestJobStopCancelsRun(t *testing.T) {
	// The context is cancelled before Run starts, so Run must stop at its
	// first loop check, before the capture's single frame, and surface
	// Cancelled rather than hanging.
	path:= buildClassicPCAP(t)
	j:= newJob(gid.GenerateJobID(), DefaultConfig(), path, "", nil, nil, nil)

	ctx, cancel:= context.WithCancel(context.Background())
	cancel()
	err:= j.Run(ctx)
	require.Error(t, err)
	st, _:= j.State()
	assert.Equal(t, StateFailed, st)
}

func TestRunnerSubmitAndStatus(t *testing.T) {
	path:= buildClassicPCAP(t)
	r:= NewRunner(DefaultConfig())
	defer r.Shutdown()

	j, err:= r.Submit(path, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _, ok:= r.Status(j.ID)
		return ok && (st == StateCompleted || st == StateFailed)
	}, 2*time.Second, 10*time.Millisecond)

	st, jerr, ok:= r.Status(j.ID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, st)
	assert.NoError(t, jerr)

	sessions, ok:= r.Sessions(j.ID)
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestRunnerStatusUnknownJob(t *testing.T) {
	r:= NewRunner(DefaultConfig())
	defer r.Shutdown()
	_, _, ok:= r.Status(gid.GenerateJobID())
	assert.False(t, ok)
}

func TestRunnerSubmitQueueFull(t *testing.T) {
	cfg:= DefaultConfig()
	cfg.WorkerThreads = 0
	cfg.MaxPacketQueueSize = 1
	r:= NewRunner(cfg)
	defer r.Shutdown()

	path:= buildClassicPCAP(t)
	_, err:= r.Submit(path, "")
	require.NoError(t, err, "the first submission fits in the buffered queue")

	_, err = r.Submit(path, "")
	assert.Error(t, err, "a second submission must fail once the queue is full and no worker drains it")
}

func TestRunnerDeleteRefusesRunningJob(t *testing.T) {
	cfg:= DefaultConfig()
	cfg.WorkerThreads = 0
	r:= NewRunner(cfg)
	defer r.Shutdown()

	path:= buildClassicPCAP(t)
	j, err:= r.Submit(path, "")
	require.NoError(t, err)

	err = r.Delete(j.ID)
	assert.Error(t, err, "a queued job (no worker to run it) must not be deletable")
}

func TestRunnerDeleteUnknownJob(t *testing.T) {
	r:= NewRunner(DefaultConfig())
	defer r.Shutdown()
	err:= r.Delete(gid.GenerateJobID())
	assert.Error(t, err)
}

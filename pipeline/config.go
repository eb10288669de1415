package pipeline

import (
	"time"

	"github.com/corepcap/mobilecore/tunnel"
)

// Config bounds and tunes one Runner and the jobs it processes. There is
// no file/flag loading here — that remains an external collaborator's
// concern — so this is a plain struct with a DefaultConfig constructor,
// following a pcap.NewOptions/functional-options shape generalized to a
// settings struct since this package has no per-call variadic options to
// thread.
type Config struct {
	WorkerThreads int
	MaxPacketQueueSize int
	FlowTimeout time.Duration
	SessionTimeout time.Duration
	MaxFlows int
	MaxTunnels int
	ActivityTimeout time.Duration
	EchoTimeoutMultiplier float64
	EnableHandoverDetection bool
	VisualizationMode tunnel.VisualizationMode
	OutputDir string

	// TCPAllowMidStreamPickup is carried in Config but not consulted: the
	// TCP reassembler always adopts the first observed sequence number for
	// a stream it never saw the SYN for, whatever this is set to, and
	// never discards segments while waiting for a SYN. Default true.
	TCPAllowMidStreamPickup bool

	// CleanupInterval is how often the job's cleanup tick sweeps every
	// time-bounded table: approximately every 1s of capture wall time, or
	// explicitly at job end.
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with practical default option values.
func DefaultConfig() Config {
	return Config{
		WorkerThreads: 4,
		MaxPacketQueueSize: 10_000,
		FlowTimeout: 300 * time.Second,
		SessionTimeout: 600 * time.Second,
		MaxFlows: 100_000,
		MaxTunnels: 100_000,
		ActivityTimeout: 7200 * time.Second,
		EchoTimeoutMultiplier: 3.0,
		EnableHandoverDetection: true,
		VisualizationMode: tunnel.VizAggregated,
		OutputDir: "",
		TCPAllowMidStreamPickup: true,
		CleanupInterval: time.Second,
	}
}

func (c Config) tunnelConfig() tunnel.Config {
	return tunnel.Config{
		MaxTunnels: c.MaxTunnels,
		ActivityTimeout: c.ActivityTimeout,
		EchoTimeoutMultiplier: c.EchoTimeoutMultiplier,
		EnableHandoverDetection: c.EnableHandoverDetection,
		VisualizationMode: c.VisualizationMode,
	}
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/perr"
	"github.com/corepcap/mobilecore/session"
)

// Runner owns a fixed pool of worker goroutines, each processing at most one
// Job at a time. Jobs are handed out over a single bounded FIFO queue; the
// queue bound reuses
// Config.MaxPacketQueueSize rather than adding a second capacity knob, since
// both numbers bound the same kind of thing: how much unprocessed work the
// pipeline is willing to hold in memory at once.
type Runner struct {
	cfg Config
	logger *slog.Logger

	mu sync.Mutex
	onProgress ProgressFunc
	onEvent EventFunc
	jobs map[gid.JobID]*Job

	queue chan *Job
	wg sync.WaitGroup
	ctx context.Context
	cancel context.CancelFunc
}

// NewRunner starts cfg.WorkerThreads worker goroutines immediately; call
// Shutdown to drain and stop them.
func NewRunner(cfg Config) *Runner {
	return NewRunnerWithLogger(cfg, nil)
}

// NewRunnerWithLogger is NewRunner with an explicit *slog.Logger, threaded
// into every job it submits.
func NewRunnerWithLogger(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel:= context.WithCancel(context.Background())
	r:= &Runner{
		cfg: cfg,
		logger: logger,
		jobs: make(map[gid.JobID]*Job),
		queue: make(chan *Job, cfg.MaxPacketQueueSize),
		ctx: ctx,
		cancel: cancel,
	}
	for i:= 0; i < cfg.WorkerThreads; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// SetProgressCallback installs a callback invoked roughly every 1000 packets
// processed by any job submitted after this call.
func (r *Runner) SetProgressCallback(fn ProgressFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = fn
}

// SetEventCallback installs a callback invoked on job state transitions,
// periodic progress, and recoverable parse warnings.
func (r *Runner) SetEventCallback(fn EventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

// Submit enqueues a new job reading inputPath and, if outputPath is set,
// writing exported records there on completion. It returns immediately; the
// job runs on whichever worker goroutine picks it up next. Submit fails with
// a perr.Resource error rather than blocking if the queue is full.
func (r *Runner) Submit(inputPath, outputPath string) (*Job, error) {
	r.mu.Lock()
	onProgress, onEvent:= r.onProgress, r.onEvent
	r.mu.Unlock()

	id:= gid.GenerateJobID()
	j:= newJob(id, r.cfg, inputPath, outputPath, onProgress, onEvent, r.logger.With("job_id", id.String()))

	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()

	select {
	case r.queue <- j:
		return j, nil
	default:
		r.mu.Lock()
		delete(r.jobs, id)
		r.mu.Unlock()
		return nil, perr.New(perr.Resource, "pipeline.Runner", "job queue is full")
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case j, ok:= <-r.queue:
			if !ok {
				return
			}
			if err:= j.Run(r.ctx); err != nil {
				r.logger.Debug("job failed", "job_id", j.ID.String(), "error", err)
			}
		}
	}
}

// Status reports a job's current state and terminal error, if any. The
// second return value is false if id is unknown to this Runner.
func (r *Runner) Status(id gid.JobID) (State, error, bool) {
	r.mu.Lock()
	j, ok:= r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	st, err:= j.State()
	return st, err, true
}

// Sessions returns the master sessions correlated so far for id. The second
// return value is false if id is unknown to this Runner.
func (r *Runner) Sessions(id gid.JobID) ([]*session.MasterSession, bool) {
	r.mu.Lock()
	j, ok:= r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return j.Sessions(), true
}

// Delete forgets a completed or failed job. It refuses to delete a job that
// is still queued or running; callers must Stop it first.
func (r *Runner) Delete(id gid.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok:= r.jobs[id]
	if !ok {
		return perr.New(perr.StateViolation, "pipeline.Runner", "unknown job id")
	}
	st, _:= j.State()
	if st == StateQueued || st == StateRunning {
		return perr.New(perr.StateViolation, "pipeline.Runner", "cannot delete a queued or running job")
	}
	delete(r.jobs, id)
	return nil
}

// Shutdown stops the workers taking new work from the queue, cancels any
// job they are running (it ends FAILED with a Cancelled error), and blocks
// until every worker goroutine has exited.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

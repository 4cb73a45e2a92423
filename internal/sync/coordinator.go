// Package sync serializes ingestion runs per mailbox and triggers them on
// a schedule.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nhle/mailledger/internal/ingest"
	"github.com/nhle/mailledger/internal/model"
)

// ErrRunInProgress is returned when a run for the same mailbox is active.
var ErrRunInProgress = errors.New("ingestion run already in progress for this mailbox")

// RunState represents the current state of a mailbox's ingestion.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunError
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunError:
		return "error"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// RunStatus holds the ingestion state for a single mailbox.
type RunStatus struct {
	Mailbox string
	State   RunState
	LastRun time.Time
	Error   error
}

// RunReport is emitted after every finished run.
type RunReport struct {
	Run    model.IngestionRun
	Result *ingest.Result
	Err    error
}

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// RunRecorder persists run audit records.
type RunRecorder interface {
	SaveRun(ctx context.Context, run model.IngestionRun) error
}

// defaultRunTimeout bounds a run when Options leaves it unset.
const defaultRunTimeout = 5 * time.Minute

// Options configures a Coordinator.
type Options struct {
	RunTimeout time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Coordinator runs ingestion at most once at a time per mailbox, records
// an audit row per run, and optionally triggers runs on a cron schedule.
type Coordinator struct {
	runner     Runner
	recorder   RunRecorder
	logger     *log.Logger
	runTimeout time.Duration
	now        func() time.Time

	cron    *cron.Cron
	reports chan RunReport

	// base parents scheduled runs; Stop cancels it.
	base       context.Context
	cancelBase context.CancelFunc

	mu       gosync.Mutex
	active   map[string]bool
	statuses map[string]*RunStatus
	running  bool
}

// New creates a Coordinator. recorder may be nil to skip auditing; a nil
// logger discards output.
func New(runner Runner, recorder RunRecorder, logger *log.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cronLogger := cron.PrintfLogger(logger.WithPrefix("cron"))
	base, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		runner:     runner,
		recorder:   recorder,
		logger:     logger,
		runTimeout: opts.RunTimeout,
		now:        opts.Now,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		reports:    make(chan RunReport, 16),
		base:       base,
		cancelBase: cancel,
		active:     make(map[string]bool),
		statuses:   make(map[string]*RunStatus),
	}
}

// RunOnce executes a run for req's mailbox unless one is already active,
// in which case ErrRunInProgress is returned without side effects. The
// run's own error, if any, is returned alongside the report.
func (c *Coordinator) RunOnce(ctx context.Context, req ingest.Request) (*RunReport, error) {
	key := req.Key()
	if !c.acquire(key) {
		return nil, ErrRunInProgress
	}
	defer c.release(key)

	if req.Now.IsZero() {
		req.Now = c.now()
	}

	run := model.IngestionRun{
		ID:        uuid.New().String(),
		Mailbox:   key,
		StartedAt: req.Now,
	}
	logger := c.logger.With("run_id", run.ID, "mailbox", key)
	logger.Info("ingestion run started")

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	result, err := c.runner.Run(runCtx, req)

	finished := c.now()
	run.FinishedAt = &finished
	fillRun(&run, result)
	if err != nil {
		run.Error = err.Error()
	}

	if c.recorder != nil {
		// The run context may have expired; the audit row must still land.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if serr := c.recorder.SaveRun(saveCtx, run); serr != nil {
			logger.Error("recording ingestion run", "err", serr)
		}
		saveCancel()
	}

	if err != nil {
		c.setStatus(key, RunError, err, finished)
		logger.Error("ingestion run failed", "err", err)
	} else {
		c.setStatus(key, RunIdle, nil, finished)
		logger.Info("ingestion run finished", "saved", run.Saved, "duration", finished.Sub(run.StartedAt))
	}

	report := &RunReport{Run: run, Result: result, Err: err}
	c.sendReport(*report)
	return report, err
}

// Schedule registers a cron job that runs the request returned by
// requestFn. Overlapping triggers for a busy mailbox are skipped. Scheduled
// runs are cancelled by Stop.
func (c *Coordinator) Schedule(spec string, requestFn func() ingest.Request) (cron.EntryID, error) {
	id, err := c.cron.AddFunc(spec, func() {
		ctx := c.baseContext()
		if ctx.Err() != nil {
			return
		}
		req := requestFn()
		req.Now = time.Time{}
		if _, err := c.RunOnce(ctx, req); errors.Is(err, ErrRunInProgress) {
			c.logger.Warn("skipping scheduled run", "mailbox", req.Key(), "reason", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("scheduling %q: %w", spec, err)
	}
	return id, nil
}

// Start begins firing scheduled jobs.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	if c.base.Err() != nil {
		c.base, c.cancelBase = context.WithCancel(context.Background())
	}
	c.running = true
	c.cron.Start()
}

// Stop halts the scheduler and cancels scheduled runs in flight. The
// returned context is done once those jobs have returned.
func (c *Coordinator) Stop() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.cancelBase()
	return c.cron.Stop()
}

func (c *Coordinator) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Reports delivers a RunReport after each run. Reports are dropped when
// nobody keeps up with the channel.
func (c *Coordinator) Reports() <-chan RunReport {
	return c.reports
}

// Statuses returns the current state of every mailbox seen so far.
func (c *Coordinator) Statuses() []RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]RunStatus, 0, len(c.statuses))
	for _, s := range c.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Mailbox < statuses[j].Mailbox })
	return statuses
}

func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[key] {
		return false
	}
	c.active[key] = true

	status, ok := c.statuses[key]
	if !ok {
		status = &RunStatus{Mailbox: key}
		c.statuses[key] = status
	}
	status.State = RunRunning
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, key)
}

// setStatus updates the run status for a mailbox.
func (c *Coordinator) setStatus(key string, state RunState, err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[key]
	if !ok {
		return
	}
	status.State = state
	status.Error = err
	status.LastRun = at
}

// sendReport sends a RunReport without blocking.
func (c *Coordinator) sendReport(r RunReport) {
	select {
	case c.reports <- r:
	default:
	}
}

func fillRun(run *model.IngestionRun, res *ingest.Result) {
	if res == nil {
		return
	}
	run.CursorBefore = res.CursorBefore
	run.CursorAfter = res.CursorAfter
	run.Candidates = res.Candidates
	run.SkippedSenders = res.SkippedSenders
	run.Saved = res.Saved
	run.Rejected = res.Rejected
	run.Duplicates = res.Duplicates
	run.Empty = res.Empty
	run.PersistenceFailed = len(res.Failures)
}

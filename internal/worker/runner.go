// Package worker runs the periodic background jobs of the backend (missed
// dose sweeps, outbox dispatch, idempotency cleanup) on a cron schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job is one named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard 5-field cron expression or a descriptor such as
	// "@every 15m" or "@hourly".
	Spec string
	Run  func(ctx context.Context) error
}

// Config holds runner settings.
type Config struct {
	// Timeout bounds a single job run. Defaults to 5 minutes.
	Timeout time.Duration
	// Location evaluates cron specs. Defaults to UTC.
	Location *time.Location
}

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Runner schedules Jobs with robfig/cron. Overlapping runs of the same job
// are skipped and panics are recovered and logged.
type Runner struct {
	cfg  Config
	log  *zerolog.Logger
	cron *cron.Cron
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// NewRunner validates every job spec and registers the jobs. Nothing runs
// until Start.
func NewRunner(cfg Config, logger *zerolog.Logger, jobs ...Job) (*Runner, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = &log.Logger
	}

	adapter := cronLogger{log: logger}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:    cfg,
		log:    logger,
		cron:   c,
		jobs:   make(map[string]Job, len(jobs)),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			cancel()
			return nil, fmt.Errorf("job %q: name and run func are required", j.Name)
		}
		if _, dup := r.jobs[j.Name]; dup {
			cancel()
			return nil, fmt.Errorf("job %q registered twice", j.Name)
		}
		job := j
		if _, err := c.AddFunc(job.Spec, func() { r.execute(job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("job %q: invalid spec %q: %w", job.Name, job.Spec, err)
		}
		r.jobs[job.Name] = job
	}
	return r, nil
}

// Start begins scheduling. It returns an error if already running.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("worker runner already running")
	}
	r.running = true
	r.cron.Start()
	r.log.Info().Int("jobs", len(r.jobs)).Msg("worker runner started")
	return nil
}

// Stop cancels in-flight runs and waits for them to return, or for ctx to
// expire, whichever comes first.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.log.Info().Msg("worker runner stopped")
	case <-ctx.Done():
		r.log.Warn().Err(ctx.Err()).Msg("worker runner stop timed out")
	}
}

// IsRunning reports whether the runner is scheduling jobs.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// RunNow executes the named job synchronously on the caller's goroutine and
// returns its error.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return job.Run(ctx)
}

func (r *Runner) execute(job Job) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.log.Error().Err(err).Str("job", job.Name).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	r.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job done")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Package scheduler runs the periodic jobs that keep the local ticket
// table honest: a full resync and an unread count reconcile.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Syncer is the engine surface the built-in jobs drive.
type Syncer interface {
	Refresh(ctx context.Context) error
	ReconcileUnread(ctx context.Context) error
}

// Job is one scheduled job definition.
type Job struct {
	Name     string
	Slug     string
	Handler  string
	Schedule string
	Timeout  time.Duration
	Config   map[string]any
}

// JobHandler executes a job.
type JobHandler func(ctx context.Context, job *Job) error

// JobStatus is the outcome of a job's latest run.
type JobStatus struct {
	Slug      string    `json:"slug"`
	Handler   string    `json:"handler"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

// Service schedules jobs on a cron engine.
type Service struct {
	syncer  Syncer
	opts    options
	logger  *zap.Logger
	cron    *cron.Cron
	metrics *jobMetrics

	mu       sync.Mutex
	handlers map[string]JobHandler
	jobs     map[string]*Job
	status   map[string]*JobStatus
	running  bool
}

// NewService returns a scheduler for syncer with the built-in handlers
// registered.
func NewService(syncer Syncer, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := o.Cron
	if c == nil {
		c = cron.New(cron.WithLocation(o.Location), cron.WithParser(o.Parser))
	}
	s := &Service{
		syncer:   syncer,
		opts:     o,
		logger:   o.Logger,
		cron:     c,
		metrics:  globalJobMetrics(),
		handlers: make(map[string]JobHandler),
		jobs:     make(map[string]*Job),
		status:   make(map[string]*JobStatus),
	}
	s.registerBuiltinHandlers()
	jobs := o.Jobs
	if len(jobs) == 0 {
		jobs = DefaultJobs("", "")
	}
	for _, job := range jobs {
		s.jobs[job.Slug] = job
		s.status[job.Slug] = &JobStatus{Slug: job.Slug, Handler: job.Handler, Schedule: job.Schedule}
	}
	return s
}

// RegisterHandler binds name to h, replacing any previous handler.
func (s *Service) RegisterHandler(name string, h JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// Run schedules every job and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		job := job
		sched, err := s.opts.Parser.Parse(job.Schedule)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", job.Slug, job.Schedule, err)
		}
		s.cron.Schedule(sched, cron.FuncJob(func() {
			_ = s.execute(ctx, job)
		}))
		s.logger.Info("scheduler: job scheduled", zap.String("job", job.Slug), zap.String("schedule", job.Schedule))
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

// RunNow executes the job with slug immediately.
func (s *Service) RunNow(ctx context.Context, slug string) error {
	s.mu.Lock()
	job, ok := s.jobs[slug]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", slug)
	}
	return s.execute(ctx, job)
}

// Status returns the latest outcome of every job ordered by slug.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (s *Service) execute(ctx context.Context, job *Job) error {
	s.mu.Lock()
	handler, ok := s.handlers[job.Handler]
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("scheduler: no handler %q for job %s", job.Handler, job.Slug)
		s.finish(job, err)
		return err
	}

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	done := s.metrics.recordRun(job.Handler)
	err := handler(runCtx, job)
	done(err)
	s.finish(job, err)
	if err != nil {
		s.logger.Warn("scheduler: job failed", zap.String("job", job.Slug), zap.Error(err))
	} else {
		s.logger.Debug("scheduler: job finished", zap.String("job", job.Slug))
	}
	return err
}

func (s *Service) finish(job *Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[job.Slug]
	if !ok {
		st = &JobStatus{Slug: job.Slug, Handler: job.Handler, Schedule: job.Schedule}
		s.status[job.Slug] = st
	}
	st.LastRun = s.opts.Clock.Now()
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

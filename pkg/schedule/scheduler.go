package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/workflow"
)

const defaultTick = time.Second

// JobStore persists scheduled jobs. The sqlite run store implements it.
type JobStore interface {
	CreateJob(ctx context.Context, job *run.ScheduledJob) error
	DueJobs(ctx context.Context, now int64) ([]*run.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]*run.ScheduledJob, error)
	RescheduleJob(ctx context.Context, id string, nextRunAt, lastRunAt int64) error
	DisableJob(ctx context.Context, id string, lastRunAt int64) error
	DeleteJob(ctx context.Context, id string) error
}

// WorkflowSource resolves the workflow definitions jobs reference.
type WorkflowSource interface {
	GetWorkflow(id string) (*workflow.Workflow, error)
}

// Starter launches workflow runs. The workflow engine implements it.
type Starter interface {
	Run(ctx context.Context, w *workflow.Workflow, input interface{}, runContext map[string]interface{}) (*run.WorkflowRun, error)
}

// Scheduler polls for due jobs and starts the workflows they name. Each
// firing runs in its own goroutine so a slow workflow never delays the tick.
type Scheduler struct {
	store     JobStore
	workflows WorkflowSource
	engine    Starter
	tick      time.Duration
	logger    zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds scheduler configuration.
type Config struct {
	Store     JobStore
	Workflows WorkflowSource
	Engine    Starter

	// Tick is the polling interval. Zero means one second.
	Tick   time.Duration
	Logger zerolog.Logger
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.Workflows == nil {
		return nil, fmt.Errorf("workflow source is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}

	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}

	return &Scheduler{
		store:     cfg.Store,
		workflows: cfg.Workflows,
		engine:    cfg.Engine,
		tick:      tick,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}, nil
}

// Add validates and persists a new job. The job id and initial next-run time
// are assigned here.
func (s *Scheduler) Add(ctx context.Context, workflowID string, spec run.ScheduleSpec, input interface{}) (*run.ScheduledJob, error) {
	if _, err := s.workflows.GetWorkflow(workflowID); err != nil {
		return nil, err
	}

	next, err := NextRun(spec, time.Now())
	if err != nil {
		return nil, err
	}

	job := &run.ScheduledJob{
		ID:         "job_" + uuid.NewString(),
		WorkflowID: workflowID,
		Spec:       spec,
		Input:      input,
		Enabled:    true,
		NextRunAt:  next,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("workflow_id", workflowID).
		Str("kind", string(spec.Kind)).
		Int64("next_run_at", next).
		Msg("Scheduled job added")

	return job, nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.store.DeleteJob(ctx, id)
}

// List returns all persisted jobs.
func (s *Scheduler) List(ctx context.Context) ([]*run.ScheduledJob, error) {
	return s.store.ListJobs(ctx)
}

// Start begins the polling loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.fireDue(context.Background())
			}
		}
	}()

	s.logger.Info().Dur("tick", s.tick).Msg("Scheduler started")
}

// Stop stops the loop and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// fireDue starts every due job and advances its schedule. The reschedule is
// written before the workflow starts so a crash cannot double-fire a job on
// restart.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueJobs(ctx, now.UnixMilli())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to poll due jobs")
		return
	}

	for _, job := range due {
		if job.Spec.Kind == run.ScheduleAt {
			if err := s.store.DisableJob(ctx, job.ID, now.UnixMilli()); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to disable one-shot job")
				continue
			}
		} else {
			next, err := NextRun(job.Spec, now)
			if err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Job schedule became invalid, disabling")
				if derr := s.store.DisableJob(ctx, job.ID, now.UnixMilli()); derr != nil {
					s.logger.Error().Err(derr).Str("job_id", job.ID).Msg("Failed to disable job")
				}
				continue
			}
			if err := s.store.RescheduleJob(ctx, job.ID, next, now.UnixMilli()); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to reschedule job")
				continue
			}
		}

		s.wg.Add(1)
		go func(job *run.ScheduledJob) {
			defer s.wg.Done()
			s.fire(job)
		}(job)
	}
}

func (s *Scheduler) fire(job *run.ScheduledJob) {
	w, err := s.workflows.GetWorkflow(job.WorkflowID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("workflow_id", job.WorkflowID).
			Msg("Scheduled workflow is gone")
		return
	}

	rec, err := s.engine.Run(context.Background(), w, job.Input, map[string]interface{}{
		"trigger": "schedule",
		"job_id":  job.ID,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("workflow_id", job.WorkflowID).
			Msg("Scheduled workflow failed to start")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("run_id", rec.ID).
		Str("status", string(rec.Status)).
		Msg("Scheduled workflow fired")
}

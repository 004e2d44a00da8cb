package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/config"
	"github.com/vrsandeep/mailpulse/internal/fetcher"
)

// FetchEmails is the ID of the mailbox fetch job.
const FetchEmails = "fetch-emails"

// Job states reported by GetStatus.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	// ErrJobRunning is returned when a job is requested while another runs.
	ErrJobRunning  = errors.New("a job is already running")
	ErrJobNotFound = errors.New("job not found")
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct implements it.
type JobContext interface {
	Config() *config.Config
	Logger() *zap.Logger
	Fetcher() *fetcher.Fetcher
}

// Task is the body of a job. ctx is cancelled when the manager stops.
type Task func(ctx context.Context, app JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// JobManager runs at most one job at a time.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]Task
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(appCtx JobContext) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]Task),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: StatusIdle}
}

// RunJob starts the job in the background. It fails with ErrJobRunning when
// any job is already running.
func (jm *JobManager) RunJob(id string) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return ErrJobRunning
	}
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if jm.ctx.Err() != nil {
		jm.mu.Unlock()
		return fmt.Errorf("job manager stopped")
	}

	jm.running = true
	status := jm.status[id]
	status.Status = StatusRunning
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.wg.Add(1)
	jm.mu.Unlock()

	logger := jm.logger()
	logger.Info("starting job", zap.String("job", id))
	go func() {
		defer jm.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = StatusFailed
				status.Message = err.Error()
			} else {
				status.Status = StatusSuccess
				status.Message = "Job completed successfully."
			}
			jm.running = false
			jm.mu.Unlock()

			if err != nil {
				logger.Error("job failed", zap.String("job", id), zap.Error(err))
			} else {
				logger.Info("finished job", zap.String("job", id))
			}
		}()

		err = task(jm.ctx, jm.appCtx)
	}()
	return nil
}

// Running reports whether a job is in progress.
func (jm *JobManager) Running() bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.running
}

// GetStatus returns a copy of every job's status ordered by ID.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Stop cancels the running job and waits for it, or for ctx to expire.
func (jm *JobManager) Stop(ctx context.Context) error {
	jm.cancel()
	done := make(chan struct{})
	go func() {
		jm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (jm *JobManager) logger() *zap.Logger {
	if jm.appCtx == nil || jm.appCtx.Logger() == nil {
		return zap.NewNop()
	}
	return jm.appCtx.Logger()
}

package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/fit"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/optim"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job represents a fitting job
type Job struct {
	ID     string           `json:"id"`
	State  JobState         `json:"state"`
	Config config.RunConfig `json:"config"`

	// progress, updated from the optimizer observer
	Iterations int     `json:"iterations"`
	Accepted   int     `json:"accepted"`
	Score      float64 `json:"score"`
	Size       int     `json:"size"`
	BestScore  float64 `json:"bestScore"`

	// set on completion
	BestChain int            `json:"bestChain"`
	Marks     []mark.Record  `json:"marks,omitempty"`
	Summary   *optim.Summary `json:"summary,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	image *fit.Image
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new pending job with the given configuration
func (jm *JobManager) CreateJob(cfg config.RunConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	snapshot := *job
	return &snapshot
}

// GetJob returns a snapshot of a job
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartTime.Equal(jobs[j].StartTime) {
			return jobs[i].StartTime.Before(jobs[j].StartTime)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// setCancel registers the function that stops a job
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// clearCancel forgets the stop function of a finished job
func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// CancelJob asks a running job to stop at its next iteration boundary.
// It reports false for unknown or finished jobs.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.RLock()
	cancel, ok := jm.cancels[id]
	jm.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

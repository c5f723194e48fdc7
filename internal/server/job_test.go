package server

import (
	"sync"
	"testing"

	"github.com/cwbudde/mppfit/internal/config"
)

// testConfig returns a small, fast job configuration
func testConfig() config.RunConfig {
	cfg := config.Default()
	cfg.Image.Synthetic = config.SyntheticConfig{Width: 48, Height: 36, Objects: 2}
	cfg.Marks.MinRadius = 3
	cfg.Marks.MaxRadius = 7
	cfg.Marks.Candidates = 60
	cfg.Kernels.RefineWeight = 0
	cfg.Termination.MaxIterations = 200
	cfg.Observability.MetricsEnabled = true
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	cfg := testConfig()
	cfg.Image.RefPath = "test.png"
	job := jm.CreateJob(cfg)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Image.RefPath != "test.png" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Errorf("Retrieved wrong job")
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Nonexistent job should not be found")
	}
}

func TestJobManager_GetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	snapshot, _ := jm.GetJob(job.ID)
	snapshot.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("Mutating a snapshot changed the job: %s", again.State)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()
	first := jm.CreateJob(testConfig())
	jm.CreateJob(testConfig())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].StartTime.After(jobs[1].StartTime) {
		t.Error("Jobs should be listed oldest first")
	}
	found := false
	for _, j := range jobs {
		found = found || j.ID == first.ID
	}
	if !found {
		t.Error("First job missing from list")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 50
		j.BestScore = 12.5
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning || updated.Iterations != 50 || updated.BestScore != 12.5 {
		t.Errorf("Update not applied: %+v", updated)
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Expected one running job")
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Expected error for nonexistent job")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	if jm.CancelJob(job.ID) {
		t.Error("Pending job without a worker should not be cancellable")
	}

	cancelled := false
	jm.setCancel(job.ID, func() { cancelled = true })
	if !jm.CancelJob(job.ID) || !cancelled {
		t.Error("Expected cancel function to be called")
	}

	jm.clearCancel(job.ID)
	if jm.CancelJob(job.ID) {
		t.Error("Cleared job should not be cancellable")
	}
}

func TestJobState_Terminal(t *testing.T) {
	for state, want := range map[JobState]bool{
		StatePending:   false,
		StateRunning:   false,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	} {
		if state.Terminal() != want {
			t.Errorf("%s: expected terminal=%v", state, want)
		}
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := jm.CreateJob(testConfig())
			for j := 0; j < 20; j++ {
				jm.UpdateJob(job.ID, func(j *Job) { j.Iterations++ })
				jm.GetJob(job.ID)
				jm.ListJobs()
			}
		}()
	}
	wg.Wait()

	jobs := jm.ListJobs()
	if len(jobs) != 10 {
		t.Fatalf("Expected 10 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Iterations != 20 {
			t.Errorf("Job %s: expected 20 iterations, got %d", j.ID, j.Iterations)
		}
	}
}

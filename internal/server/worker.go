package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/mppfit/internal/fit"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/optim"
	"github.com/cwbudde/mppfit/internal/store"
)

// runJob executes a fitting job in the background.
// If runStore is not nil the finished run is persisted under the job ID.
func runJob(ctx context.Context, jm *JobManager, runStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jm.setCancel(jobID, cancel)
	defer jm.clearCancel(jobID)

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	logger := slog.Default().With("job_id", jobID)
	logger.Info("Starting job", "ref", job.Config.Image.RefPath, "chains", job.Config.Run.Chains)

	img, err := fit.LoadImage(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to load image: %w", err))
		return err
	}
	jm.UpdateJob(jobID, func(j *Job) {
		j.image = img
	})

	dims := img.Stack.Dimensions()
	logger.Info("Loaded image", "width", dims.X, "height", dims.Y)

	start := time.Now()
	progressDone := make(chan struct{})
	monitorStopped := make(chan struct{})
	go func() {
		defer close(monitorStopped)
		monitorProgress(ctx, jm, jobID, start, progressDone)
	}()

	// chains report concurrently; UpdateJob serialises them
	progress := optim.ObserverFunc(func(fb optim.Feedback) {
		jm.UpdateJob(jobID, func(j *Job) { recordFeedback(j, fb) })
	})
	observer := optim.Observers{progress}
	closeTrace := func() {}

	// the trace lives next to the run record, so only the filesystem store gets one
	if fsStore, ok := runStore.(*store.FSStore); ok && job.Config.Run.TraceEvery > 0 {
		trace, err := store.NewTraceWriter(fsStore.BaseDir(), jobID, false)
		if err != nil {
			logger.Warn("Failed to open trace", "error", err)
		} else {
			closeTrace = func() {
				if err := trace.Close(); err != nil {
					logger.Warn("Failed to close trace", "error", err)
				}
				if err := trace.Err(); err != nil {
					logger.Warn("Trace incomplete", "error", err)
				}
			}
			observer = append(observer, trace.Observer(job.Config.Run.TraceEvery))
		}
	}

	outcome, err := fit.Run(ctx, job.Config, img, observer, logger)
	close(progressDone)
	<-monitorStopped
	closeTrace()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			markJobCancelled(jm, jobID)
			return ctx.Err()
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	// persist before completing so clients that see the completed state find the run
	if runStore != nil {
		if _, err := fit.Save(runStore, jobID, job.Config, img, outcome, logger); err != nil {
			logger.Error("Failed to persist run", "error", err)
		}
	}

	summary := outcome.Results[outcome.BestChain].Summary
	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestScore = outcome.Best.Score()
		j.Size = outcome.Best.Size()
		j.BestChain = outcome.BestChain
		j.Marks = mark.Records(outcome.Best.Marks())
		j.Summary = &summary
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	final, _ := jm.GetJob(jobID)
	ips := float64(final.Iterations) / elapsed.Seconds()
	logger.Info("Job completed",
		"elapsed", elapsed,
		"best_score", outcome.Best.Score(),
		"marks", outcome.Best.Size(),
		"acceptance_rate", summary.AcceptanceRate,
		"iterations_per_second", ips,
	)

	jm.broadcaster.Broadcast(progressEvent(final, ips))
	return nil
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			var ips float64
			if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
				ips = float64(job.Iterations) / elapsed
			}
			jm.broadcaster.Broadcast(progressEvent(job, ips))
		}
	}
}

// recordFeedback folds one iteration into the progress of j. The first
// feedback sets the best score, whatever its sign.
func recordFeedback(j *Job, fb optim.Feedback) {
	j.Iterations++
	if fb.Outcome == optim.OutcomeAccepted {
		j.Accepted++
	}
	j.Score = fb.Score
	j.Size = fb.Size
	if j.Iterations == 1 || fb.BestScore > j.BestScore {
		j.BestScore = fb.BestScore
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job, 0))
	}
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job, 0))
	}
	slog.Info("Job cancelled", "job_id", jobID)
}

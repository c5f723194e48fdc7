package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	Seq        uint64    `json:"seq"`
	JobID      string    `json:"jobId"`
	State      JobState  `json:"state"`
	Iterations int       `json:"iterations"`
	Accepted   int       `json:"accepted"`
	Score      float64   `json:"score"`
	Size       int       `json:"size"`
	BestScore  float64   `json:"bestScore"`
	IPS        float64   `json:"ips"` // iterations per second
	Timestamp  time.Time `json:"timestamp"`
}

// progressEvent snapshots the progress of job
func progressEvent(job *Job, ips float64) ProgressEvent {
	return ProgressEvent{
		JobID:      job.ID,
		State:      job.State,
		Iterations: job.Iterations,
		Accepted:   job.Accepted,
		Score:      job.Score,
		Size:       job.Size,
		BestScore:  job.BestScore,
		IPS:        ips,
		Timestamp:  time.Now(),
	}
}

// name is the SSE event type
func (e ProgressEvent) name() string {
	if e.State.Terminal() {
		return "done"
	}
	return "progress"
}

const subscriberBuffer = 8

// topic holds the subscribers and replay state of one job
type topic struct {
	subs    map[chan ProgressEvent]struct{}
	last    ProgressEvent
	hasLast bool
	seq     uint64
}

// EventBroadcaster fans job progress out to SSE subscribers. Slow
// subscribers lose intermediate events, never the most recent one.
type EventBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{topics: make(map[string]*topic)}
}

func (eb *EventBroadcaster) topic(jobID string) *topic {
	t, ok := eb.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan ProgressEvent]struct{})}
		eb.topics[jobID] = t
	}
	return t
}

// Subscribe registers a client for the events of a job. The last event, if
// any, is replayed immediately. After Close the channel is returned closed.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberBuffer)
	if eb.closed {
		close(ch)
		return ch
	}

	t := eb.topic(jobID)
	t.subs[ch] = struct{}{}
	if t.hasLast {
		ch <- t.last
	}

	slog.Debug("SSE client subscribed", "jobID", jobID, "total_clients", len(t.subs))
	return ch
}

// Unsubscribe removes a client and closes its channel
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	close(ch)

	slog.Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast numbers the event and delivers it to every subscriber of its job
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	t := eb.topic(event.JobID)
	t.seq++
	event.Seq = t.seq
	t.last = event
	t.hasLast = true

	for ch := range t.subs {
		deliver(ch, event)
	}
}

// deliver enqueues event, evicting the oldest queued event when ch is full.
// Only Broadcast sends on subscriber channels, and it holds the lock, so
// after one eviction the send cannot block.
func deliver(ch chan ProgressEvent, event ProgressEvent) {
	select {
	case ch <- event:
		return
	default:
	}
	select {
	case dropped := <-ch:
		slog.Debug("SSE subscriber behind, dropping event", "jobID", event.JobID, "seq", dropped.Seq)
	default:
	}
	ch <- event
}

// Close ends every subscription so that open streams return
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for jobID, t := range eb.topics {
		for ch := range t.subs {
			close(ch)
		}
		delete(eb.topics, jobID)
	}
}

// handleJobStream handles SSE connections for job progress
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// subscribe before the first write so a job finishing in between is
	// still seen through the replayed event
	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	if err := writeSSEEvent(w, progressEvent(job, 0)); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event frame. The initial snapshot has no sequence
// number and is sent without an id line.
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if event.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.name(), data)
	return err
}

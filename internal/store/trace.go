package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/mppfit/internal/optim"
)

// TraceFile is the name of the iteration trace inside a run directory
const TraceFile = "trace.jsonl"

// TraceEntry is one line of trace.jsonl: the feedback of an iteration
// and the wall-clock time it finished
type TraceEntry struct {
	optim.Feedback

	Timestamp time.Time `json:"timestamp"`
}

func tracePath(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID, TraceFile)
}

// TraceWriter appends iteration feedback of a run to a JSONL file.
// It is safe for concurrent use, so one writer can observe every chain.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	path string

	// err is the first failure seen by the observer
	err error
}

// NewTraceWriter opens <baseDir>/runs/<runID>/trace.jsonl, truncating it
// unless appendTo is set.
func NewTraceWriter(baseDir, runID string, appendTo bool) (*TraceWriter, error) {
	path := tracePath(baseDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
		path: path,
	}, nil
}

// Write buffers one entry; it reaches the file on Flush or Close
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Observer returns an optimizer observer that records accepted iterations
// and every n-th iteration of each chain. Write failures do not stop the
// run; the first one is reported by Err.
func (tw *TraceWriter) Observer(every int) optim.Observer {
	if every < 1 {
		every = 1
	}
	return optim.ObserverFunc(func(fb optim.Feedback) {
		if fb.Outcome != optim.OutcomeAccepted && fb.Iteration%every != 0 {
			return
		}
		if err := tw.Write(TraceEntry{Feedback: fb, Timestamp: time.Now()}); err != nil {
			tw.mu.Lock()
			if tw.err == nil {
				tw.err = err
			}
			tw.mu.Unlock()
		}
	})
}

// Err returns the first write failure seen by the observer
func (tw *TraceWriter) Err() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.err
}

// Flush writes buffered entries and syncs the file
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	flushErr := tw.buf.Flush()
	closeErr := tw.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush on close: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close trace file: %w", closeErr)
	}
	return nil
}

// Path returns the filesystem path to the trace file
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries back in file order
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of a run. A missing trace is a NotFoundError.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(tracePath(baseDir, runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID, Artifact: TraceFile}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// descriptions of large births can make long lines
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF at the end of the trace
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads the remaining entries
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace file
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// ChainCurve is the recorded progress of one chain
type ChainCurve struct {
	Chain      int       `json:"chain"`
	Iterations []int     `json:"iterations"`
	Scores     []float64 `json:"scores"`
	BestScores []float64 `json:"bestScores"`
	Accepted   int       `json:"accepted"`
}

// Final returns the best score at the last recorded iteration
func (c ChainCurve) Final() float64 {
	if len(c.BestScores) == 0 {
		return 0
	}
	return c.BestScores[len(c.BestScores)-1]
}

// ChainCurves splits trace entries by chain, ordered by chain index and
// then iteration. Entries of interleaved chains may appear in any order.
func ChainCurves(entries []TraceEntry) []ChainCurve {
	byChain := make(map[int][]TraceEntry)
	for _, e := range entries {
		byChain[e.Chain] = append(byChain[e.Chain], e)
	}

	curves := make([]ChainCurve, 0, len(byChain))
	for chain, list := range byChain {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Iteration < list[j].Iteration })
		c := ChainCurve{
			Chain:      chain,
			Iterations: make([]int, len(list)),
			Scores:     make([]float64, len(list)),
			BestScores: make([]float64, len(list)),
		}
		for i, e := range list {
			c.Iterations[i] = e.Iteration
			c.Scores[i] = e.Score
			c.BestScores[i] = e.BestScore
			if e.Outcome == optim.OutcomeAccepted {
				c.Accepted++
			}
		}
		curves = append(curves, c)
	}
	sort.Slice(curves, func(i, j int) bool { return curves[i].Chain < curves[j].Chain })
	return curves
}

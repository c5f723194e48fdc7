package optim

import (
	"gonum.org/v1/gonum/stat"
)

// Outcome classifies what happened in an iteration
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFault    Outcome = "fault"
)

// Feedback describes one finished iteration
type Feedback struct {
	Chain       int     `json:"chain"`
	Iteration   int     `json:"iteration"`
	Kernel      string  `json:"kernel"`
	Outcome     Outcome `json:"outcome"`
	Probability float64 `json:"probability"`
	Score       float64 `json:"score"`
	Size        int     `json:"size"`
	BestScore   float64 `json:"best_score"`
	Description string  `json:"description,omitempty"`
}

// Observer receives feedback after every iteration. Calls happen on the
// optimizing goroutine; observers must not block for long.
type Observer interface {
	Observe(Feedback)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Feedback)

func (f ObserverFunc) Observe(fb Feedback) { f(fb) }

// Observers fans feedback out to several observers in order. Nil entries
// are skipped.
type Observers []Observer

func (obs Observers) Observe(fb Feedback) {
	for _, o := range obs {
		if o != nil {
			o.Observe(fb)
		}
	}
}

// KernelSummary aggregates the outcomes of one kernel
type KernelSummary struct {
	Proposed int `json:"proposed"`
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
	Faults   int `json:"faults"`
}

// Summary describes a finished run
type Summary struct {
	Iterations int `json:"iterations"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Skipped    int `json:"skipped"`
	Faults     int `json:"faults"`

	// AcceptanceRate is accepted over scored proposals
	AcceptanceRate float64 `json:"acceptance_rate"`

	MeanProbability   float64 `json:"mean_probability"`
	StdDevProbability float64 `json:"stddev_probability"`

	// score statistics over the sequence of current states
	MeanScore   float64 `json:"mean_score"`
	StdDevScore float64 `json:"stddev_score"`

	Kernels map[string]KernelSummary `json:"kernels"`
}

// recorder accumulates feedback into a Summary
type recorder struct {
	summary       Summary
	probabilities []float64
	scores        []float64
}

func newRecorder() *recorder {
	return &recorder{summary: Summary{Kernels: make(map[string]KernelSummary)}}
}

func (r *recorder) observe(fb Feedback) {
	s := &r.summary
	s.Iterations++
	ks := s.Kernels[fb.Kernel]
	switch fb.Outcome {
	case OutcomeAccepted:
		s.Accepted++
		ks.Proposed++
		ks.Accepted++
		r.probabilities = append(r.probabilities, fb.Probability)
	case OutcomeRejected:
		s.Rejected++
		ks.Proposed++
		r.probabilities = append(r.probabilities, fb.Probability)
	case OutcomeSkipped:
		s.Skipped++
		ks.Skipped++
	case OutcomeFault:
		s.Faults++
		ks.Faults++
	}
	s.Kernels[fb.Kernel] = ks
	r.scores = append(r.scores, fb.Score)
}

func (r *recorder) finish() Summary {
	s := r.summary
	if scored := s.Accepted + s.Rejected; scored > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(scored)
	}
	s.MeanProbability, s.StdDevProbability = meanStdDev(r.probabilities)
	s.MeanScore, s.StdDevScore = meanStdDev(r.scores)
	return s
}

// meanStdDev returns zeros instead of NaN for short samples
func meanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	default:
		return stat.MeanStdDev(x, nil)
	}
}

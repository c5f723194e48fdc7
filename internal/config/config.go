// Package config defines the run configuration of the marked point process
// optimizer. Values are loaded with priority env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RunConfig is the complete configuration of an optimization run
type RunConfig struct {
	Image         ImageConfig         `json:"image" yaml:"image"`
	Marks         MarksConfig         `json:"marks" yaml:"marks"`
	Kernels       KernelsConfig       `json:"kernels" yaml:"kernels"`
	Anneal        AnnealConfig        `json:"anneal" yaml:"anneal"`
	Termination   TerminationConfig   `json:"termination" yaml:"termination"`
	Energy        EnergyConfig        `json:"energy" yaml:"energy"`
	Run           RunSection          `json:"run" yaml:"run"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ImageConfig selects the image marks are fitted to
type ImageConfig struct {
	// RefPath is a PNG or JPEG file. When empty a synthetic image is used.
	RefPath string `json:"ref_path" yaml:"ref_path"`

	Synthetic SyntheticConfig `json:"synthetic" yaml:"synthetic"`
}

// SyntheticConfig describes a generated test image of bright discs
type SyntheticConfig struct {
	Width   int `json:"width" yaml:"width"`
	Height  int `json:"height" yaml:"height"`
	Objects int `json:"objects" yaml:"objects"`
}

// MarksConfig controls the marks that are proposed
type MarksConfig struct {
	Kind      string  `json:"kind" yaml:"kind"`
	MinRadius float64 `json:"min_radius" yaml:"min_radius"`
	MaxRadius float64 `json:"max_radius" yaml:"max_radius"`

	// Candidates is the size of the pre-sampled candidate universe used by
	// partition births. Zero disables partition births.
	Candidates int `json:"candidates" yaml:"candidates"`
}

// KernelsConfig sets the kernel menu. A zero weight removes a kernel.
type KernelsConfig struct {
	BirthWeight          float64 `json:"birth_weight" yaml:"birth_weight"`
	BirthCount           int     `json:"birth_count" yaml:"birth_count"`
	PartitionBirthWeight float64 `json:"partition_birth_weight" yaml:"partition_birth_weight"`
	PartitionBirthCount  int     `json:"partition_birth_count" yaml:"partition_birth_count"`
	DeathWeight          float64 `json:"death_weight" yaml:"death_weight"`
	DeathPolicy          string  `json:"death_policy" yaml:"death_policy"`
	RefineWeight         float64 `json:"refine_weight" yaml:"refine_weight"`
	RefineIters          int     `json:"refine_iters" yaml:"refine_iters"`
	RefinePopSize        int     `json:"refine_pop_size" yaml:"refine_pop_size"`
	RefineShift          float64 `json:"refine_shift" yaml:"refine_shift"`
}

// AnnealConfig selects the cooling schedule
type AnnealConfig struct {
	Scheme string  `json:"scheme" yaml:"scheme"`
	Start  float64 `json:"start" yaml:"start"`
	End    float64 `json:"end" yaml:"end"`
	Decay  float64 `json:"decay" yaml:"decay"`
}

// TerminationConfig combines stopping rules; the run stops when any fires.
// Zero disables a rule, except MaxIterations which is required.
type TerminationConfig struct {
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations"`
	ConstantScoreReps   int     `json:"constant_score_reps" yaml:"constant_score_reps"`
	ToleranceLog10      float64 `json:"tolerance_log10" yaml:"tolerance_log10"`
	ConstantSizeReps    int     `json:"constant_size_reps" yaml:"constant_size_reps"`
	StagnationPatience  int     `json:"stagnation_patience" yaml:"stagnation_patience"`
	StagnationThreshold float64 `json:"stagnation_threshold" yaml:"stagnation_threshold"`
}

// EnergyConfig parameterises the energy scheme
type EnergyConfig struct {
	ShellWidth        float64 `json:"shell_width" yaml:"shell_width"`
	ContrastThreshold float64 `json:"contrast_threshold" yaml:"contrast_threshold"`
	OverlapWeight     float64 `json:"overlap_weight" yaml:"overlap_weight"`

	// Rescore recomputes every proposal from scratch instead of incrementally
	Rescore bool `json:"rescore" yaml:"rescore"`
}

// RunSection holds execution settings
type RunSection struct {
	Seed   uint64 `json:"seed" yaml:"seed"`
	Chains int    `json:"chains" yaml:"chains"`

	// PoissonIntensity is the expected number of marks per pixel under the
	// reference process
	PoissonIntensity float64 `json:"poisson_intensity" yaml:"poisson_intensity"`

	// TraceEvery writes every n-th iteration to the trace. Zero disables tracing.
	TraceEvery int `json:"trace_every" yaml:"trace_every"`
}

// StoreConfig selects where run records are persisted
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Dir     string `json:"dir" yaml:"dir"`
}

// ObservabilityConfig controls logging and metrics
type ObservabilityConfig struct {
	LogLevel       string `json:"log_level" yaml:"log_level"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns a configuration that works for small images
func Default() RunConfig {
	return RunConfig{
		Image: ImageConfig{
			Synthetic: SyntheticConfig{Width: 128, Height: 96, Objects: 6},
		},
		Marks: MarksConfig{
			Kind:       "circle",
			MinRadius:  3,
			MaxRadius:  12,
			Candidates: 400,
		},
		Kernels: KernelsConfig{
			BirthWeight:          1,
			BirthCount:           1,
			PartitionBirthWeight: 2,
			PartitionBirthCount:  1,
			DeathWeight:          2,
			DeathPolicy:          "weighted",
			RefineWeight:         0.5,
			RefineIters:          20,
			RefinePopSize:        20,
		},
		Anneal: AnnealConfig{
			Scheme: "geometric",
			Start:  5,
			End:    0.01,
			Decay:  0.999,
		},
		Termination: TerminationConfig{
			MaxIterations:      5000,
			ToleranceLog10:     -6,
			ConstantSizeReps:   0,
			StagnationPatience: 0,
		},
		Energy: EnergyConfig{
			ShellWidth:        3,
			ContrastThreshold: 0.1,
			OverlapWeight:     1,
		},
		Run: RunSection{
			Seed:             1,
			Chains:           1,
			PoissonIntensity: 1e-3,
			TraceEvery:       10,
		},
		Store: StoreConfig{
			Backend: "fs",
			Dir:     "./data",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load merges defaults, the optional file at path and MPP_* environment
// variables, then validates the result
func Load(path string) (RunConfig, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *RunConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *RunConfig) {
	if v := os.Getenv("MPP_REF_PATH"); v != "" {
		cfg.Image.RefPath = v
	}
	if v := os.Getenv("MPP_MARK_KIND"); v != "" {
		cfg.Marks.Kind = v
	}
	if v := os.Getenv("MPP_CANDIDATES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Marks.Candidates = i
		}
	}
	if v := os.Getenv("MPP_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Termination.MaxIterations = i
		}
	}
	if v := os.Getenv("MPP_ANNEAL_SCHEME"); v != "" {
		cfg.Anneal.Scheme = v
	}
	if v := os.Getenv("MPP_ANNEAL_START"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anneal.Start = f
		}
	}
	if v := os.Getenv("MPP_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Run.Seed = u
		}
	}
	if v := os.Getenv("MPP_CHAINS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Run.Chains = i
		}
	}
	if v := os.Getenv("MPP_POISSON_INTENSITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Run.PoissonIntensity = f
		}
	}
	if v := os.Getenv("MPP_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MPP_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("MPP_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("MPP_METRICS_ENABLED"); v != "" {
		cfg.Observability.MetricsEnabled = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is usable
func (c RunConfig) Validate() error {
	if c.Image.RefPath == "" {
		s := c.Image.Synthetic
		if s.Width < 1 || s.Height < 1 {
			return fmt.Errorf("synthetic image needs positive width and height when no ref_path is set")
		}
		if s.Objects < 0 {
			return fmt.Errorf("synthetic objects cannot be negative")
		}
	}

	switch c.Marks.Kind {
	case "point", "circle", "ellipse":
	default:
		return fmt.Errorf("marks.kind must be point, circle or ellipse, got %q", c.Marks.Kind)
	}
	if c.Marks.MinRadius < 0 || (c.Marks.MaxRadius > 0 && c.Marks.MaxRadius < c.Marks.MinRadius) {
		return fmt.Errorf("marks radius range [%f, %f] is invalid", c.Marks.MinRadius, c.Marks.MaxRadius)
	}
	if c.Marks.Candidates < 0 {
		return fmt.Errorf("marks.candidates cannot be negative")
	}

	k := c.Kernels
	for name, w := range map[string]float64{
		"birth_weight":           k.BirthWeight,
		"partition_birth_weight": k.PartitionBirthWeight,
		"death_weight":           k.DeathWeight,
		"refine_weight":          k.RefineWeight,
	} {
		if w < 0 {
			return fmt.Errorf("kernels.%s cannot be negative", name)
		}
	}
	if k.BirthWeight+k.PartitionBirthWeight == 0 {
		return fmt.Errorf("at least one birth kernel must have a positive weight")
	}
	if k.BirthWeight > 0 && k.BirthCount < 1 {
		return fmt.Errorf("kernels.birth_count must be >= 1")
	}
	if k.PartitionBirthWeight > 0 {
		if k.PartitionBirthCount < 1 {
			return fmt.Errorf("kernels.partition_birth_count must be >= 1")
		}
		if c.Marks.Candidates == 0 {
			return fmt.Errorf("partition births need marks.candidates > 0")
		}
	}
	switch k.DeathPolicy {
	case "", "uniform", "weighted":
	default:
		return fmt.Errorf("kernels.death_policy must be uniform or weighted, got %q", k.DeathPolicy)
	}
	if k.RefineWeight > 0 {
		if c.Marks.Kind == "point" {
			return fmt.Errorf("refine kernel cannot operate on point marks")
		}
		if k.RefineIters < 1 {
			return fmt.Errorf("kernels.refine_iters must be >= 1")
		}
	}

	switch c.Anneal.Scheme {
	case "geometric", "linear":
		if c.Anneal.Start <= 0 {
			return fmt.Errorf("anneal.start must be positive")
		}
	case "none":
	default:
		return fmt.Errorf("anneal.scheme must be geometric, linear or none, got %q", c.Anneal.Scheme)
	}

	t := c.Termination
	if t.MaxIterations < 1 {
		return fmt.Errorf("termination.max_iterations must be >= 1")
	}
	if t.ConstantScoreReps < 0 || t.ConstantSizeReps < 0 || t.StagnationPatience < 0 {
		return fmt.Errorf("termination repetitions cannot be negative")
	}

	if c.Energy.ShellWidth <= 0 {
		return fmt.Errorf("energy.shell_width must be positive")
	}
	if c.Energy.OverlapWeight < 0 {
		return fmt.Errorf("energy.overlap_weight cannot be negative")
	}

	if c.Run.Chains < 1 {
		return fmt.Errorf("run.chains must be >= 1")
	}
	if c.Run.PoissonIntensity < 0 {
		return fmt.Errorf("run.poisson_intensity cannot be negative")
	}
	if c.Run.TraceEvery < 0 {
		return fmt.Errorf("run.trace_every cannot be negative")
	}

	switch c.Store.Backend {
	case "fs", "badger":
	default:
		return fmt.Errorf("store.backend must be fs or badger, got %q", c.Store.Backend)
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir cannot be empty")
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.log_level must be debug, info, warn or error, got %q", c.Observability.LogLevel)
	}
	return nil
}

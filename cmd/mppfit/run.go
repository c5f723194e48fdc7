package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/fit"
	"github.com/cwbudde/mppfit/internal/optim"
	"github.com/cwbudde/mppfit/internal/store"
)

var (
	refPath  string
	outPath  string
	maskPath string
	markKind string
	seed     uint64
	chains   int
	iters    int
	saveRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fit marks to an image",
	Long: `Runs the marked point process sampler on a reference image (or a
synthetic image when no reference is configured) and writes an overlay of the
best configuration. With --save the run is persisted to the configured store.`,
	RunE: runFit,
}

func init() {
	runCmd.Flags().StringVar(&refPath, "ref", "", "Reference image path (default: synthetic image)")
	runCmd.Flags().StringVar(&outPath, "out", "overlay.png", "Overlay output path")
	runCmd.Flags().StringVar(&maskPath, "mask", "", "Optional mask output path")
	runCmd.Flags().StringVar(&markKind, "kind", "", "Mark kind: point, circle, ellipse")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed")
	runCmd.Flags().IntVar(&chains, "chains", 0, "Number of independent chains")
	runCmd.Flags().IntVar(&iters, "iters", 0, "Max iterations per chain")
	runCmd.Flags().BoolVar(&saveRun, "save", false, "Persist the run to the configured store")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides configuration fields with explicitly set flags
func applyRunFlags(cmd *cobra.Command, cfg *config.RunConfig) error {
	if cmd == nil {
		return nil
	}
	flags := cmd.Flags()
	if flags.Changed("ref") {
		cfg.Image.RefPath = refPath
	}
	if flags.Changed("kind") {
		cfg.Marks.Kind = markKind
	}
	if flags.Changed("seed") {
		cfg.Run.Seed = seed
	}
	if flags.Changed("chains") {
		cfg.Run.Chains = chains
	}
	if flags.Changed("iters") {
		cfg.Termination.MaxIterations = iters
	}
	return cfg.Validate()
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	img, err := fit.LoadImage(cfg)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	dims := img.Stack.Dimensions()
	slog.Info("Loaded image", "width", dims.X, "height", dims.Y, "synthetic", cfg.Image.RefPath == "")

	runID := uuid.New().String()
	var runStore store.Store
	var observer optim.Observer
	if saveRun {
		runStore, err = store.Open(cfg.Store, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer runStore.Close()

		if fsStore, ok := runStore.(*store.FSStore); ok && cfg.Run.TraceEvery > 0 {
			trace, err := store.NewTraceWriter(fsStore.BaseDir(), runID, false)
			if err != nil {
				return fmt.Errorf("failed to open trace: %w", err)
			}
			defer trace.Close()
			observer = trace.Observer(cfg.Run.TraceEvery)
		}
	}

	start := time.Now()
	outcome, err := fit.Run(ctx, cfg, img, observer, slog.Default())
	if err != nil {
		var early *optim.OptTerminatedEarlyError
		if errors.As(err, &early) && early.Errors != nil && early.Errors.Total() > 0 {
			slog.Error("Optimization terminated early", "errors", early.Errors.String())
		}
		return err
	}
	elapsed := time.Since(start)

	best := outcome.Best.Marks()
	overlay, mask, err := img.Artifacts(best)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, overlay, 0644); err != nil {
		return fmt.Errorf("failed to write overlay: %w", err)
	}
	if maskPath != "" {
		if err := os.WriteFile(maskPath, mask, 0644); err != nil {
			return fmt.Errorf("failed to write mask: %w", err)
		}
	}

	if runStore != nil {
		if _, err := fit.Save(runStore, runID, cfg, img, outcome, slog.Default()); err != nil {
			return err
		}
	}

	summary := outcome.Results[outcome.BestChain].Summary
	maskErr, err := img.MaskError(best)
	if err != nil {
		return err
	}
	slog.Info("Fit complete",
		"elapsed", elapsed,
		"score", outcome.Best.Score(),
		"marks", outcome.Best.Size(),
		"acceptance_rate", summary.AcceptanceRate,
		"mask_mse", maskErr,
	)

	fmt.Printf("Wrote %s (score %.2f, %d marks, acceptance %.1f%%, mask mse %.4f)\n",
		outPath, outcome.Best.Score(), outcome.Best.Size(), summary.AcceptanceRate*100, maskErr)
	if runStore != nil {
		fmt.Printf("Saved run %s\n", runID)
	}
	return nil
}

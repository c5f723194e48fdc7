package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/store"
)

var (
	runsDataDir   string
	runsBackend   string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage saved runs",
	Long: `Manage saved fitting runs such as listing and cleaning old runs.
Runs are written by "mppfit run --save" and by the job server.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved runs",
	Long:  `Display all runs with metadata including run ID, timestamp, iterations, score and mark count.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the marks of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can specify how many runs to keep or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for run storage")
	runsCmd.PersistentFlags().StringVar(&runsBackend, "backend", "fs", "Storage backend (fs or badger)")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openRunStore() (store.Store, error) {
	st, err := store.Open(config.StoreConfig{Backend: runsBackend, Dir: runsDataDir}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return st, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tKIND\tITERATION\tSCORE\tMARKS\tSIZE")
	fmt.Fprintln(w, "------\t---------\t----\t---------\t-----\t-----\t----")

	for _, info := range infos {
		sizeStr := "-"
		if runsBackend == "" || runsBackend == "fs" {
			sizeStr = "unknown"
			if size, err := getDirSize(filepath.Join(runsDataDir, "runs", info.RunID)); err == nil {
				sizeStr = formatBytes(size)
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\t%d\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Kind,
			info.Iteration,
			info.Score,
			info.Marks,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	record, err := runStore.LoadRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", record.RunID)
	fmt.Printf("Saved: %s\n", record.Timestamp.Format(time.RFC3339))
	fmt.Printf("Score: %.4f (chain %d, %d iterations, %d accepted)\n",
		record.Score, record.Chain, record.Summary.Iterations, record.Summary.Accepted)
	fmt.Printf("Acceptance rate: %.3f\n", record.Summary.AcceptanceRate)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tX\tY\tA\tB\tTHETA")
	for _, m := range record.Marks {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.3f\n", m.ID, m.Kind, m.X, m.Y, m.A, m.B, m.Theta)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if runsBackend == "" || runsBackend == "fs" {
		return showTrace(record.RunID)
	}
	return nil
}

// showTrace prints the recorded progress of each chain, if the run has a trace
func showTrace(runID string) error {
	reader, err := store.NewTraceReader(runsDataDir, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return err
	}

	fmt.Printf("\nTrace: %d entries\n", len(entries))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tSAMPLES\tACCEPTED\tLAST ITERATION\tBEST SCORE")
	for _, c := range store.ChainCurves(entries) {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.3f\n", c.Chain, len(c.Iterations), c.Accepted, c.Iterations[len(c.Iterations)-1], c.Final())
	}
	return w.Flush()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := openRunStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (score %.3f, %s)\n",
			shortID(info.RunID),
			info.Score,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "run_id", info.RunID)
		deleted++
	}

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy. A run is selected when
// it is older than olderThanDays or falls outside the keepLast newest runs.
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int) []store.RunInfo {
	sorted := append([]store.RunInfo(nil), infos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var cutoff time.Time
	if olderThanDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -olderThanDays)
	}
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []store.RunInfo
	for i, info := range sorted {
		if i < excess || (olderThanDays > 0 && info.Timestamp.Before(cutoff)) {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

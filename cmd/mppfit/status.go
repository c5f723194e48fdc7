package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// jobView is the subset of the job JSON the CLI prints
type jobView struct {
	ID         string  `json:"id"`
	State      string  `json:"state"`
	Iterations int     `json:"iterations"`
	Accepted   int     `json:"accepted"`
	Size       int     `json:"size"`
	BestScore  float64 `json:"bestScore"`
	Elapsed    float64 `json:"elapsed"`
	IPS        float64 `json:"ips"`
	Error      string  `json:"error"`
	Config     struct {
		Image struct {
			RefPath string `json:"ref_path"`
		} `json:"image"`
		Marks struct {
			Kind string `json:"kind"`
		} `json:"marks"`
		Termination struct {
			MaxIterations int `json:"max_iterations"`
		} `json:"termination"`
		Run struct {
			Seed   uint64 `json:"seed"`
			Chains int    `json:"chains"`
		} `json:"run"`
	} `json:"config"`
}

func fetch(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(url string) error {
	var jobs []jobView
	if _, err := fetch(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Kind: %s\n", job.Config.Marks.Kind)
		fmt.Printf("  Iterations: %d/%d\n", job.Iterations, job.Config.Termination.MaxIterations*max(job.Config.Run.Chains, 1))
		if job.Size > 0 {
			fmt.Printf("  Best: %.2f (%d marks)\n", job.BestScore, job.Size)
		}
		fmt.Println()
	}
	return nil
}

func getJobStatus(url, jobID string) error {
	var status jobView
	code, err := fetch(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	fmt.Println()

	fmt.Println("Configuration:")
	ref := status.Config.Image.RefPath
	if ref == "" {
		ref = "(synthetic)"
	}
	fmt.Printf("  Reference: %s\n", ref)
	fmt.Printf("  Kind: %s\n", status.Config.Marks.Kind)
	fmt.Printf("  Max iterations: %d\n", status.Config.Termination.MaxIterations)
	fmt.Printf("  Chains: %d\n", status.Config.Run.Chains)
	fmt.Printf("  Seed: %d\n", status.Config.Run.Seed)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %d (%d accepted)\n", status.Iterations, status.Accepted)
	fmt.Printf("  Best score: %.2f\n", status.BestScore)
	fmt.Printf("  Marks: %d\n", status.Size)
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.IPS > 0 {
		fmt.Printf("  Throughput: %.0f iterations/sec\n", status.IPS)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}
	return nil
}

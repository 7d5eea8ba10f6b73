// Benchmark tool for scoring a labelled loan dataset against Heron.
//
// Usage:
//
//	go run ./cmd/benchmark --csv /path/to/loan_data.csv --url http://localhost:8080
//
// Each row is sent to POST /predict and the decision is compared with the
// row's loan_status label (1 = approved). Manual-review decisions count as
// not approved and are also reported separately.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	csvPath string
	baseURL string
	limit   int
	workers int
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Replay a labelled loan dataset against a running Heron",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&csvPath, "csv", "", "Path to loan CSV file")
	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Heron base URL")
	rootCmd.Flags().IntVar(&limit, "limit", 10000, "Maximum applications to process (0 = all)")
	rootCmd.Flags().IntVar(&workers, "workers", 10, "Number of concurrent workers")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Print each application result")
	rootCmd.MarkFlagRequired("csv")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	fmt.Println("HERON BENCHMARK - loan approval dataset")
	fmt.Printf("\nCSV File:    %s\n", csvPath)
	fmt.Printf("Heron URL:   %s\n", baseURL)
	fmt.Printf("Workers:     %d\n", workers)
	fmt.Printf("Limit:       %d\n", limit)
	fmt.Println()

	if err := checkHealth(baseURL); err != nil {
		return fmt.Errorf("heron not reachable at %s: %w", baseURL, err)
	}
	fmt.Println("Heron is healthy")

	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readLoanCSV(f, limit)
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}

	approved := 0
	for _, r := range rows {
		if r.Approved {
			approved++
		}
	}
	fmt.Printf("Loaded %d applications (%d approved, %d rejected)\n", len(rows), approved, len(rows)-approved)

	fmt.Printf("\nRunning benchmark with %d workers...\n", workers)
	start := time.Now()
	client := &http.Client{Timeout: 10 * time.Second}
	m := runBenchmark(rows, func(r LoanRow) (*Prediction, error) {
		return predict(client, baseURL, r)
	}, workers, verbose)

	printResults(m, time.Since(start))
	return nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

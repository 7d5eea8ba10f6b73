package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Prediction is the subset of the /predict response the benchmark reads.
type Prediction struct {
	Classification      string `json:"classification"`
	ApprovalProbability int    `json:"approvalProbability"`
	SourceStage         string `json:"sourceStage"`
}

// Metrics tracks benchmark results. Approved is the positive class.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	ManualReview int64
	RemoteStage  int64
	LocalStage   int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

type predictFunc func(LoanRow) (*Prediction, error)

func runBenchmark(rows []LoanRow, predict predictFunc, numWorkers int, verbose bool) *Metrics {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	metrics := &Metrics{}

	work := make(chan LoanRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				start := time.Now()
				result, err := predict(row)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: line %d -> %v\n", row.Line, err)
					}
					continue
				}

				metrics.record(row, result)

				if verbose {
					fmt.Printf("line %-6d | actual approved: %-5v | heron: %-13s (%3d%%) via %s\n",
						row.Line, row.Approved, result.Classification, result.ApprovalProbability, result.SourceStage)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return metrics
}

func (m *Metrics) record(row LoanRow, p *Prediction) {
	switch p.SourceStage {
	case "remote":
		atomic.AddInt64(&m.RemoteStage, 1)
	default:
		atomic.AddInt64(&m.LocalStage, 1)
	}
	if p.Classification == "manual-review" {
		atomic.AddInt64(&m.ManualReview, 1)
	}

	predicted := p.Classification == "approved"
	switch {
	case predicted && row.Approved:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !row.Approved:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !row.Approved:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Rates returns precision, recall, F1 and accuracy for the approved class.
func (m *Metrics) Rates() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}

func predict(client *http.Client, baseURL string, row LoanRow) (*Prediction, error) {
	body, err := json.Marshal(row.Fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Prediction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Remote stage:     %d\n", m.RemoteStage)
	fmt.Printf("   Local stage:      %d\n", m.LocalStage)
	fmt.Printf("   Manual review:    %d\n", m.ManualReview)

	fmt.Printf("\nCONFUSION MATRIX (positive = approved)\n")
	fmt.Println("                      Predicted")
	fmt.Println("                  approved   other")
	fmt.Printf("   Actual  A   %10d %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           R   %10d %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1, accuracy := m.Rates()
	fmt.Printf("\nMETRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

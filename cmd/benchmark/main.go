// Benchmark tool for scoring Kestrel against labeled extraction data.
//
// Usage:
//
//	go run ./cmd/benchmark -data /path/to/labeled.jsonl -url http://localhost:8080
//
// Each input line is one labeled record:
//
//	{"fraud": true, "schema": "invoice", "data": {...}}
//
// This tool:
//  1. Reads the labeled records
//  2. Sends each record to POST /api/v1/validate
//  3. Compares the verdict's fraud risk with the label
//  4. Calculates precision, recall, F1-score, confusion matrix and latency percentiles
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/verdict"
)

// LabeledRecord is one line of the benchmark dataset.
type LabeledRecord struct {
	Fraud  bool          `json:"fraud"`
	Schema string        `json:"schema"`
	Shape  string        `json:"shape,omitempty"`
	Data   domain.Record `json:"data"`
}

// ValidateRequest is the Kestrel API request format.
type ValidateRequest struct {
	Schema string        `json:"schema"`
	Shape  string        `json:"shape,omitempty"`
	Data   domain.Record `json:"data"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud flagged at or above the alert risk
	FalsePositives int64 // Legitimate record flagged
	TrueNegatives  int64 // Legitimate record passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalInvalid   int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []float64 // milliseconds
}

// Record adds the outcome of one labeled record.
func (m *Metrics) Record(actual, predicted bool) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, float64(d.Microseconds())/1000)
	m.mu.Unlock()
}

// Scores returns precision, recall, F1 and accuracy.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
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

// Latency summarizes request latencies in milliseconds.
type Latency struct {
	Mean, P50, P95, P99, Max float64
}

// Latency computes the latency summary; it fails when nothing was observed.
func (m *Metrics) Latency() (Latency, error) {
	m.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), m.latencies...))
	m.mu.Unlock()

	var l Latency
	var err error
	if l.Mean, err = stats.Mean(data); err != nil {
		return l, err
	}
	if l.P50, err = stats.Percentile(data, 50); err != nil {
		return l, err
	}
	if l.P95, err = stats.Percentile(data, 95); err != nil {
		return l, err
	}
	if l.P99, err = stats.Percentile(data, 99); err != nil {
		return l, err
	}
	if l.Max, err = stats.Max(data); err != nil {
		return l, err
	}
	return l, nil
}

func main() {
	// Parse flags
	dataPath := flag.String("data", "", "Path to labeled JSONL records")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	alertRisk := flag.String("alert-risk", string(domain.FraudRiskMedium), "Lowest fraud risk counted as a fraud prediction")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	if *dataPath == "" {
		fmt.Println("Usage: benchmark -data /path/to/labeled.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	threshold, ok := domain.ParseFraudRisk(*alertRisk)
	if !ok {
		fmt.Printf("ERROR: unknown alert risk %q\n", *alertRisk)
		os.Exit(1)
	}

	fmt.Println("===============================================================")
	fmt.Println("          KESTREL BENCHMARK - Labeled Document Fraud")
	fmt.Println("===============================================================")
	fmt.Printf("\nData File:   %s\n", *dataPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Alert Risk:  %s\n", threshold)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	records, err := readRecords(*dataPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read data: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d records\n", len(records))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *tenantID, *workers, threshold, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

// readRecords reads up to limit labeled records, skipping malformed lines.
func readRecords(path string, limit int) ([]LabeledRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []LabeledRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec LabeledRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Data == nil {
			continue // Skip malformed rows
		}
		records = append(records, rec)

		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func runBenchmark(records []LabeledRecord, baseURL, tenantID string, numWorkers int, threshold domain.FraudRisk, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledRecord, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				result, err := validateRecord(client, baseURL, tenantID, rec)
				metrics.observe(time.Since(start))
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", rec.Schema, err)
					}
					continue
				}

				if !result.Verdict.IsValid {
					atomic.AddInt64(&metrics.TotalInvalid, 1)
				}

				predicted := verdict.ShouldAlert(result.Verdict, threshold)
				metrics.Record(rec.Fraud, predicted)

				if verbose {
					mark := "ok"
					if predicted != rec.Fraud {
						mark = "MISS"
					}
					fmt.Printf("%-4s %-10s | Fraud: %-5v | Kestrel: %-6s risk=%-8s confidence=%.2f\n",
						mark,
						result.Schema,
						rec.Fraud,
						result.Status,
						result.Verdict.FraudRisk,
						result.Verdict.Confidence,
					)
				}
			}
		}()
	}

	// Send work
	for _, rec := range records {
		work <- rec
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func validateRecord(client *http.Client, baseURL, tenantID string, rec LabeledRecord) (*domain.ReportResponse, error) {
	body, err := json.Marshal(ValidateRequest{
		Schema: rec.Schema,
		Shape:  rec.Shape,
		Data:   rec.Data,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n===============================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("===============================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Legitimate: %d\n", m.TotalNonFraud)
	fmt.Printf("   Invalid Verdicts: %d\n", m.TotalInvalid)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                       Predicted")
	fmt.Println("                  FRAUD       LEGIT")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("           L  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	precision, recall, f1, accuracy := m.Scores()
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged records, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how much was flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if lat, err := m.Latency(); err == nil {
		fmt.Printf("   Mean Latency:     %.2f ms\n", lat.Mean)
		fmt.Printf("   p50 / p95 / p99:  %.2f / %.2f / %.2f ms\n", lat.P50, lat.P95, lat.P99)
		fmt.Printf("   Max Latency:      %.2f ms\n", lat.Max)
		fmt.Printf("   Throughput:       %.2f records/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}

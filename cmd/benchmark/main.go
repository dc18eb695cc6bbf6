// Benchmark tool for testing Kestrel against a labelled loan dataset.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/loan_data.csv -url http://localhost:8080
//
// This tool:
//  1. Reads loan applications with their loan_status labels
//  2. Sends each application to Kestrel's /predict endpoint
//  3. Compares Kestrel's decision with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LabelledApplication is one row of the dataset.
type LabelledApplication struct {
	Application domain.Application
	Approved    bool
}

// Metrics tracks benchmark results. Approval is the positive class.
type Metrics struct {
	TruePositives  int64 // Approved and labelled approved
	FalsePositives int64 // Approved but labelled rejected
	TrueNegatives  int64 // Rejected and labelled rejected
	FalseNegatives int64 // Rejected but labelled approved

	TotalProcessed int64
	TotalApproved  int64
	TotalRejected  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// Record adds one compared decision.
func (m *Metrics) Record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalApproved, 1)
	} else {
		atomic.AddInt64(&m.TotalRejected, 1)
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

// Precision is TP / (TP + FP).
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN).
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct decisions.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labelled loan CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/loan_data.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL BENCHMARK - Loan Approval Model            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running with a model loaded:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is ready")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	apps, err := readLoanCSV(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %s applications\n", humanize.Comma(int64(len(apps))))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(apps, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

// readLoanCSV reads rows with the application columns and loan_status.
// Extra columns such as loan_int_rate are ignored; malformed rows are skipped.
func readLoanCSV(r io.Reader, limit int) ([]LabelledApplication, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	required := []string{
		domain.FieldAge, domain.FieldGender, domain.FieldEducation, domain.FieldIncome,
		domain.FieldEmpExp, domain.FieldHomeOwnership, domain.FieldLoanAmount, domain.FieldLoanIntent,
		domain.FieldCreditHistoryLength, domain.FieldCreditScore, domain.FieldPreviousDefaults, "loan_status",
	}
	for _, col := range required {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var apps []LabelledApplication
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		app, err := parseRow(record, colIndex)
		if err != nil {
			continue
		}
		apps = append(apps, app)

		if limit > 0 && len(apps) >= limit {
			break
		}
	}

	return apps, nil
}

func parseRow(record []string, colIndex map[string]int) (LabelledApplication, error) {
	var errs []error
	num := func(col string) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[colIndex[col]]), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", col, err))
		}
		return v
	}
	str := func(col string) string {
		return strings.TrimSpace(record[colIndex[col]])
	}

	row := LabelledApplication{
		Application: domain.Application{
			PersonAge:                  int(num(domain.FieldAge)),
			PersonGender:               str(domain.FieldGender),
			PersonEducation:            str(domain.FieldEducation),
			PersonIncome:               num(domain.FieldIncome),
			PersonEmpExp:               int(num(domain.FieldEmpExp)),
			PersonHomeOwnership:        str(domain.FieldHomeOwnership),
			LoanAmount:                 num(domain.FieldLoanAmount),
			LoanIntent:                 str(domain.FieldLoanIntent),
			CreditHistoryLength:        int(num(domain.FieldCreditHistoryLength)),
			CreditScore:                int(num(domain.FieldCreditScore)),
			PreviousLoanDefaultsOnFile: str(domain.FieldPreviousDefaults),
		},
		Approved: num("loan_status") == 1,
	}
	return row, errors.Join(errs...)
}

func runBenchmark(apps []LabelledApplication, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabelledApplication, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				pred, err := predict(client, baseURL, &row.Application)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				predicted := pred.Approved()
				metrics.Record(predicted, row.Approved)

				if verbose {
					status := "✓"
					if predicted != row.Approved {
						status = "✗"
					}
					fmt.Printf("%s Income: $%12s | Loan: $%10s | Score: %3d | Label: %-5v | Kestrel: %-5v (%.3f)\n",
						status,
						humanize.Commaf(row.Application.PersonIncome),
						humanize.Commaf(row.Application.LoanAmount),
						row.Application.CreditScore,
						row.Approved,
						predicted,
						pred.Probability,
					)
				}
			}
		}()
	}

	for _, row := range apps {
		work <- row
	}
	close(work)

	wg.Wait()

	return metrics
}

func predict(client *http.Client, baseURL string, app *domain.Application) (*domain.Prediction, error) {
	body, err := json.Marshal(app)
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
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var pred domain.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %s\n", humanize.Comma(m.TotalProcessed))
	fmt.Printf("   Label Approved:   %s\n", humanize.Comma(m.TotalApproved))
	fmt.Printf("   Label Rejected:   %s\n", humanize.Comma(m.TotalRejected))
	fmt.Printf("   Errors:           %s\n", humanize.Comma(m.TotalErrors))

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  APPROVED    REJECTED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           R  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 MODEL METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of approvals, how many were labelled approved)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of labelled approvals, how many we approved)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}

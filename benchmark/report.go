package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SaveResults writes the collected metrics as JSON and a CSV summary into the output
// directory and returns both paths.
func (s *Suite) SaveResults() ([]string, error) {
	results := s.Results()

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	jsonPath := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_results_%s.json", stamp))
	csvPath := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", stamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write results file")
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create summary file")
	}
	defer f.Close()
	if err := WriteCSV(csv.NewWriter(f), results); err != nil {
		return nil, errors.Wrap(err, "failed to write summary file")
	}

	s.logger.WithField("results", jsonPath).WithField("summary", csvPath).Info("benchmark results saved")
	return []string{jsonPath, csvPath}, nil
}

var csvHeader = []string{
	"scenario", "resolution", "format", "concurrency", "fps",
	"mean_ms", "p50_ms", "p95_ms", "p99_ms",
	"preprocess_ms", "inference_ms", "postprocess_ms",
	"detections", "accepted", "error_rate",
}

// WriteCSV writes one summary row per scenario.
func WriteCSV(w *csv.Writer, results []PerformanceMetrics) error {
	ms := func(d time.Duration) string {
		return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64)
	}

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Scenario.Name,
			r.Scenario.Resolution.Name,
			string(r.Scenario.Format),
			strconv.Itoa(r.Scenario.Concurrency),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			ms(r.Latency.Mean), ms(r.Latency.P50), ms(r.Latency.P95), ms(r.Latency.P99),
			ms(r.Stages.Preprocess), ms(r.Stages.Inference), ms(r.Stages.Postprocess),
			strconv.Itoa(r.Detections),
			strconv.Itoa(r.Accepted),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

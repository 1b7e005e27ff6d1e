// Package benchmark - Latency and throughput benchmarks of the detection pipeline.
package benchmark

import (
	"bytes"
	"context"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/util"
)

// ErrNoImages is returned when a scenario runs without any source image.
var ErrNoImages = errors.New("no benchmark images loaded")

// Detector is the part of detector.Detector a benchmark drives.
type Detector interface {
	DetectBytes(ctx context.Context, data []byte) (*detector.Result, error)
}

// LatencyMetrics summarises the end-to-end latency of one scenario.
type LatencyMetrics struct {
	Mean time.Duration `json:"mean_ns"`
	P50  time.Duration `json:"p50_ns"`
	P95  time.Duration `json:"p95_ns"`
	P99  time.Duration `json:"p99_ns"`
	Max  time.Duration `json:"max_ns"`
}

// StageMetrics holds mean per-stage durations reported by the detector.
type StageMetrics struct {
	Preprocess  time.Duration `json:"preprocess_ns"`
	Inference   time.Duration `json:"inference_ns"`
	Postprocess time.Duration `json:"postprocess_ns"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// PerformanceMetrics is the outcome of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"`
	Timestamp       time.Time      `json:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration_ns"`
	FramesPerSecond float64        `json:"frames_per_second"`
	Latency         LatencyMetrics `json:"latency"`
	Stages          StageMetrics   `json:"stages"`
	Memory          MemoryMetrics  `json:"memory"`
	NumCPU          int            `json:"num_cpu"`
	// Detections counts suppressed detections over all iterations.
	Detections int `json:"detections"`
	// Accepted counts iterations whose top detection was accepted.
	Accepted  int     `json:"accepted"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// Suite manages and executes benchmark scenarios against one detector.
type Suite struct {
	detector  Detector
	outputDir string
	logger    *log.Entry

	mu        sync.RWMutex
	sources   []image.Image
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a benchmark suite writing its reports to outputDir.
func NewSuite(d Detector, outputDir string) *Suite {
	return &Suite{
		detector:  d,
		outputDir: outputDir,
		logger:    log.WithField("component", "benchmark"),
	}
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(sc Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, sc)
}

// Scenarios returns a copy of the configured scenarios.
func (s *Suite) Scenarios() []Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Scenario(nil), s.scenarios...)
}

// AddImage adds a decoded source image.
func (s *Suite) AddImage(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, img)
}

// LoadImages loads a single image file or every image in a directory. Files that fail to
// decode are skipped with a warning.
func (s *Suite) LoadImages(path string, recursive bool) error {
	if util.IsImageFile(path) {
		img, err := images.Load(path)
		if err != nil {
			return err
		}
		s.AddImage(img)
		return nil
	}

	files, err := util.ListImageFiles(path, recursive)
	if err != nil {
		return err
	}
	loaded := 0
	for _, f := range files {
		img, err := images.Load(f.Path)
		if err != nil {
			s.logger.WithError(err).Warn("skipping image")
			continue
		}
		s.AddImage(img)
		loaded++
	}
	if loaded == 0 {
		return errors.Wrapf(ErrNoImages, "directory %s", path)
	}
	return nil
}

// encode resizes every source to the scenario resolution and encodes it in the scenario format.
func (s *Suite) encode(sc Scenario) ([][]byte, error) {
	s.mu.RLock()
	sources := append([]image.Image(nil), s.sources...)
	s.mu.RUnlock()

	if len(sources) == 0 {
		return nil, ErrNoImages
	}

	format, err := imagingFormat(sc.Format)
	if err != nil {
		return nil, err
	}

	payloads := make([][]byte, 0, len(sources))
	for _, src := range sources {
		img := src
		if sc.Resolution.Width > 0 && sc.Resolution.Height > 0 {
			img = imaging.Resize(src, sc.Resolution.Width, sc.Resolution.Height, imaging.Lanczos)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
			return nil, errors.Wrapf(err, "encode %s", sc.Format)
		}
		payloads = append(payloads, buf.Bytes())
	}
	return payloads, nil
}

type sample struct {
	latency time.Duration
	result  *detector.Result
	err     error
}

// RunScenario executes one scenario: warmup runs first, then the measured iterations spread
// over sc.Concurrency workers.
func (s *Suite) RunScenario(ctx context.Context, sc Scenario) (*PerformanceMetrics, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	payloads, err := s.encode(sc)
	if err != nil {
		return nil, err
	}

	for i := 0; i < sc.WarmupRuns; i++ {
		if _, err := s.detector.DetectBytes(ctx, payloads[i%len(payloads)]); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	samples := make([]sample, sc.Iterations)
	jobs := make(chan int)
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < sc.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				t0 := time.Now()
				res, err := s.detector.DetectBytes(ctx, payloads[i%len(payloads)])
				samples[i] = sample{latency: time.Since(t0), result: res, err: err}
			}
		}()
	}

feed:
	for i := 0; i < sc.Iterations; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	total := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	m := summarize(sc, samples, total)
	m.Memory = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}
	return m, nil
}

// summarize folds the samples of one run into metrics.
func summarize(sc Scenario, samples []sample, total time.Duration) *PerformanceMetrics {
	m := &PerformanceMetrics{
		Scenario:      sc,
		Timestamp:     time.Now(),
		TotalDuration: total,
		NumCPU:        runtime.NumCPU(),
	}

	latencies := make([]float64, 0, len(samples))
	var pre, inf, post []float64
	for _, smp := range samples {
		if smp.err != nil {
			m.Errors++
			continue
		}
		latencies = append(latencies, float64(smp.latency))
		if smp.result == nil {
			continue
		}
		pre = append(pre, float64(smp.result.Timings.Preprocess))
		inf = append(inf, float64(smp.result.Timings.Inference))
		post = append(post, float64(smp.result.Timings.Postprocess))
		m.Detections += len(smp.result.Detections)
		if _, ok := smp.result.Best(); ok {
			m.Accepted++
		}
	}

	if len(samples) > 0 {
		m.ErrorRate = float64(m.Errors) / float64(len(samples))
	}
	if total > 0 {
		m.FramesPerSecond = float64(len(latencies)) / total.Seconds()
	}
	m.Latency = latencyMetrics(latencies)
	m.Stages = StageMetrics{
		Preprocess:  meanDuration(pre),
		Inference:   meanDuration(inf),
		Postprocess: meanDuration(post),
	}
	return m
}

func latencyMetrics(latencies []float64) LatencyMetrics {
	if len(latencies) == 0 {
		return LatencyMetrics{}
	}
	sort.Float64s(latencies)
	q := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, latencies, nil))
	}
	return LatencyMetrics{
		Mean: meanDuration(latencies),
		P50:  q(0.5),
		P95:  q(0.95),
		P99:  q(0.99),
		Max:  time.Duration(latencies[len(latencies)-1]),
	}
}

func meanDuration(xs []float64) time.Duration {
	if len(xs) == 0 {
		return 0
	}
	return time.Duration(stat.Mean(xs, nil))
}

// RunAll executes every configured scenario, logging failures, and saves the reports.
func (s *Suite) RunAll(ctx context.Context) error {
	for _, sc := range s.Scenarios() {
		m, err := s.RunScenario(ctx, sc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).WithField("scenario", sc.Name).Error("scenario failed")
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *m)
		s.mu.Unlock()

		s.logger.WithFields(log.Fields{
			"scenario": sc.Name,
			"fps":      m.FramesPerSecond,
			"p95":      m.Latency.P95,
			"errors":   m.Errors,
		}).Info("scenario completed")
	}

	_, err := s.SaveResults()
	return err
}

// Results returns a copy of the collected metrics.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/benchmark"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/config"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/pipeline"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to the YAML configuration file")
		scenarioFile  = flag.String("scenarios", "", "Path to a YAML list of scenarios")
		imagesPath    = flag.String("images", "", "Image file or directory of benchmark images")
		recursive     = flag.Bool("recursive", false, "Descend into subdirectories of -images")
		outputDir     = flag.String("output", "./benchmark_results", "Output directory for results")
		comprehensive = flag.Bool("comprehensive", false, "Cross every common resolution with JPEG and PNG")
		timeout       = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout")
	)
	flag.Parse()

	if *imagesPath == "" {
		log.Fatal("Test images path is required (-images)")
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.History.Enabled = false
	if err := cfg.Log.Apply(log.StandardLogger()); err != nil {
		log.Fatal(err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build detection pipeline: %v", err)
	}
	defer p.Close()

	suite := benchmark.NewSuite(p.Detector, *outputDir)
	if err := suite.LoadImages(*imagesPath, *recursive); err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	var scenarios []benchmark.Scenario
	switch {
	case *scenarioFile != "":
		data, err := os.ReadFile(*scenarioFile)
		if err != nil {
			log.Fatalf("Failed to read scenarios: %v", err)
		}
		if scenarios, err = benchmark.ParseScenarios(data); err != nil {
			log.Fatalf("Failed to parse scenarios: %v", err)
		}
	case *comprehensive:
		scenarios = benchmark.ComprehensiveScenarios(p.Pool.Size())
	default:
		scenarios = benchmark.QuickScenarios(p.Pool.Size())
	}
	for _, sc := range scenarios {
		suite.AddScenario(sc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := suite.RunAll(ctx); err != nil {
		log.Errorf("Benchmark failed: %v", err)
		return
	}

	for _, m := range suite.Results() {
		log.WithFields(log.Fields{
			"scenario":  m.Scenario.Name,
			"fps":       m.FramesPerSecond,
			"p50":       m.Latency.P50,
			"p95":       m.Latency.P95,
			"inference": m.Stages.Inference,
			"accepted":  m.Accepted,
		}).Info("result")
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/config"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/history"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images/overlay"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/pipeline"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/util"
)

// report is one line of output per image.
type report struct {
	Path       string               `json:"path"`
	Found      bool                 `json:"found"`
	Species    string               `json:"species,omitempty"`
	Score      float32              `json:"score,omitempty"`
	Box        *images.Rect         `json:"box,omitempty"`
	Detections []detector.Detection `json:"detections,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func main() {
	var (
		configPath   string
		modelPath    string
		imagePath    string
		dir          string
		recursive    bool
		outputDir    string
		canvasWidth  int
		canvasHeight int
		record       bool
		all          bool
		jsonOutput   bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX model, overrides the configuration")
	flag.StringVar(&imagePath, "image", "", "Path to an image file (.jpg, .jpeg, .png, .webp)")
	flag.StringVar(&dir, "dir", "", "Directory of images to process")
	flag.BoolVar(&recursive, "recursive", false, "Descend into subdirectories of -dir")
	flag.StringVar(&outputDir, "output-dir", "", "Write annotated images to this directory")
	flag.IntVar(&canvasWidth, "canvas-width", 0, "Width of the annotated canvas, image width when 0")
	flag.IntVar(&canvasHeight, "canvas-height", 0, "Height of the annotated canvas, image height when 0")
	flag.BoolVar(&record, "record", false, "Record accepted detections in the history database")
	flag.BoolVar(&all, "all", false, "Report every detection, not only the accepted one")
	flag.BoolVar(&jsonOutput, "json", false, "Print one JSON object per image")
	flag.Parse()

	if (imagePath == "") == (dir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -dir is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	cfg.History.Enabled = record
	if err := cfg.Log.Apply(log.StandardLogger()); err != nil {
		log.Fatal(err)
	}

	var paths []string
	if imagePath != "" {
		paths = []string{imagePath}
	} else {
		files, err := util.ListImageFiles(dir, recursive)
		if err != nil {
			log.Fatalf("Failed to list images: %v", err)
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}
	if len(paths) == 0 {
		log.Warn("no images to process")
		return
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build detection pipeline: %v", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := overlay.DefaultOptions()
	opts.CanvasWidth, opts.CanvasHeight = canvasWidth, canvasHeight

	jobs := make(chan string)
	reports := make(chan report)
	var wg sync.WaitGroup
	for i := 0; i < p.Pool.Size(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				reports <- process(ctx, p, path, outputDir, opts, all)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(reports)
	}()

	found := 0
	enc := json.NewEncoder(os.Stdout)
	for r := range reports {
		if r.Found {
			found++
		}
		if jsonOutput {
			enc.Encode(r)
			continue
		}
		switch {
		case r.Error != "":
			fmt.Printf("%s: error: %s\n", r.Path, r.Error)
		case r.Found:
			fmt.Printf("%s: %s (%.2f) %s\n", r.Path, r.Species, r.Score, r.Box)
		default:
			fmt.Printf("%s: no detection found\n", r.Path)
		}
	}

	log.WithFields(log.Fields{"images": len(paths), "found": found}).Info("done")
}

func process(ctx context.Context, p *pipeline.Pipeline, path, outputDir string, opts overlay.Options, all bool) report {
	r := report{Path: path}

	img, err := images.Load(path)
	if err != nil {
		r.Error = err.Error()
		return r
	}

	result, err := p.Detector.Detect(ctx, img)
	if err != nil {
		if !detector.IsNoDetection(err) {
			r.Error = err.Error()
		}
		return r
	}
	if all {
		r.Detections = result.Detections
	}

	best, ok := result.Best()
	if ok {
		r.Found = true
		r.Species = best.Species
		r.Score = best.Score
		r.Box = &best.Original

		if p.History != nil {
			rec := &history.Record{
				Species:     best.Species,
				Label:       best.Label,
				Score:       best.Score,
				Box:         best.Original,
				ImageWidth:  result.Width,
				ImageHeight: result.Height,
				Source:      path,
			}
			if _, err := p.History.Insert(ctx, rec); err != nil {
				log.WithError(err).Error("failed to save history")
			}
		}
	}

	if outputDir != "" {
		var boxes []overlay.Box
		for _, d := range result.Detections {
			if !all && (!ok || d.Original != best.Original) {
				continue
			}
			label := d.Species
			if label == "" {
				label = d.Label
			}
			boxes = append(boxes, overlay.Box{Rect: d.Original, Label: label, Score: d.Score})
		}
		out := filepath.Join(outputDir, filepath.Base(path))
		if filepath.Ext(out) == ".webp" {
			out = out[:len(out)-len(".webp")] + ".jpg"
		}
		if err := overlay.WriteFile(out, img, boxes, opts); err != nil {
			log.WithError(err).WithField("path", out).Error("failed to write overlay")
		}
	}

	return r
}

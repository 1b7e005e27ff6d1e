package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/config"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/pipeline"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/server"
)

func main() {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&addr, "addr", "", "Listen address, overrides the configuration")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Log.Apply(log.StandardLogger()); err != nil {
		log.Fatal(err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build detection pipeline: %v", err)
	}
	defer p.Close()

	srv := server.New(p.Detector, server.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		History:        p.History,
		Pool:           p.Pool,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		log.Errorf("server stopped: %v", err)
	}
}

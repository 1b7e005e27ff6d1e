// Package opencv - OpenCV DNN inference engine.
package opencv

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
)

// Options configures a Net.
type Options struct {
	Model model.Config
	// Backend is an OpenCV DNN backend name ("opencv", "cuda", "openvino"), "opencv" when empty.
	Backend string
	// Target is an OpenCV DNN target name ("cpu", "cuda", "cuda_fp16"), "cpu" when empty.
	Target string
}

// Net is an inference.Engine backed by gocv's DNN module.
type Net struct {
	net    gocv.Net
	cfg    model.Config
	output string
}

var _ inference.Engine = (*Net)(nil)

// NewNet loads an ONNX model with OpenCV. The DNN module only accepts NCHW blobs, so the model
// must be configured with the CHW channel order.
func NewNet(opts Options) (*Net, error) {
	cfg := opts.Model
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChannelOrder != preprocess.ChannelOrderCHW {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "opencv engine requires chw input, got %q", cfg.ChannelOrder)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "model file not found: %s", cfg.Path)
	}

	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model: %s", cfg.Path)
	}

	backend, target := opts.Backend, opts.Target
	if backend == "" {
		backend = "opencv"
	}
	if target == "" {
		target = "cpu"
	}
	if err := net.SetPreferableBackend(gocv.ParseNetBackend(backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend %s: %w", backend, err)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target %s: %w", target, err)
	}

	output := ""
	if len(cfg.Outputs) > 0 {
		output = cfg.Outputs[0]
	}

	log.WithFields(log.Fields{
		"model":   cfg.Name,
		"path":    cfg.Path,
		"backend": backend,
		"target":  target,
	}).Info("opencv net loaded")

	return &Net{net: net, cfg: cfg, output: output}, nil
}

// Infer wraps input in an NCHW blob, runs a forward pass and returns a copy of the output.
func (n *Net) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.net.Empty() {
		return nil, inference.Failure(nil, "net is closed")
	}
	if len(input) != n.cfg.InputLen() {
		return nil, inference.Failure(nil, fmt.Sprintf("input has %d values, %s expects %d",
			len(input), n.cfg.Name, n.cfg.InputLen()))
	}

	blob, err := gocv.NewMatWithSizesFromBytes(blobSizes(n.cfg), gocv.MatTypeCV32F, float32Bytes(input))
	if err != nil {
		return nil, inference.Failure(err, "create input blob")
	}
	defer blob.Close()

	if err := n.net.SetInput(blob, ""); err != nil {
		return nil, inference.Failure(err, "set input")
	}

	out := n.net.Forward(n.output)
	defer out.Close()

	if out.Total() != n.cfg.OutputLen() {
		return nil, inference.Failure(nil, fmt.Sprintf("output has %d values, expected %d", out.Total(), n.cfg.OutputLen()))
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, inference.Failure(err, "read output")
	}
	return append([]float32(nil), data...), nil
}

// Close releases the network.
func (n *Net) Close() error {
	return n.net.Close()
}

func blobSizes(cfg model.Config) []int {
	shape := cfg.InputShape()
	sizes := make([]int, len(shape))
	for i, d := range shape {
		sizes[i] = int(d)
	}
	return sizes
}

func float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

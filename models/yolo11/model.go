// Package yolo11 - YOLO11 detection model.
package yolo11

import (
	"image"

	"github.com/pkg/errors"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// strides are the downsampling factors of the three detection heads.
var strides = []int{8, 16, 32}

const (
	// DefaultInput is the input tensor name of Ultralytics ONNX exports.
	DefaultInput = "images"
	// DefaultOutput is the output tensor name of Ultralytics ONNX exports.
	DefaultOutput = "output0"
)

// YOLO11 is the instance of the YOLO11 model.
type YOLO11 struct {
	options      model.Config
	preprocessor *preprocess.Preprocessor
}

// AnchorCount returns the number of candidate boxes produced for a square input, one per grid
// cell of every detection head.
//
// @example
// AnchorCount(640) // 80*80 + 40*40 + 20*20 = 8400
func AnchorCount(inputSize int) int {
	n := 0
	for _, s := range strides {
		g := inputSize / s
		n += g * g
	}
	return n
}

// NewModel creates a new model.
//
// Unset fields are filled in: the family, the tensor names, and the box count derived from
// the input size.
//
// Arguments:
//   - cfg: The model configuration.
//
// Returns:
//   - The model.
//   - model.ErrInvalidConfig if the configuration is inconsistent.
func NewModel(cfg model.Config) (*YOLO11, error) {
	if cfg.Name == "" {
		cfg.Name = model.ModelNameYOLO11
	}
	if cfg.Family == "" {
		cfg.Family = model.ModelFamilyYOLO
	}
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = []string{DefaultInput}
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{DefaultOutput}
	}
	if cfg.InputSize > 0 && cfg.InputSize%strides[len(strides)-1] != 0 {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "input_size %d is not a multiple of %d",
			cfg.InputSize, strides[len(strides)-1])
	}
	if cfg.NumBoxes == 0 {
		cfg.NumBoxes = AnchorCount(cfg.InputSize)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if want := AnchorCount(cfg.InputSize); cfg.NumBoxes != want {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "num_boxes %d does not match %d anchors for input %d",
			cfg.NumBoxes, want, cfg.InputSize)
	}

	return &YOLO11{
		options:      cfg,
		preprocessor: preprocess.NewPreprocessor(cfg.PreprocessConfig()),
	}, nil
}

// Options returns the options for the YOLO11 model.
//
// Returns:
//   - The options for the YOLO11 model.
func (m *YOLO11) Options() model.Config {
	return m.options
}

// PreProcess letterboxes an image into the model input tensor.
func (m *YOLO11) PreProcess(img image.Image) (*preprocess.Result, error) {
	return m.preprocessor.Preprocess(img)
}

// PostProcess decodes a raw [4+classes, boxes] output and suppresses overlapping candidates.
//
// Arguments:
//   - output: The raw output tensor data.
//
// Returns:
//   - Detections in descending score order, boxes in model input pixels.
//   - postprocess.ErrDecode if the output does not match the configured layout.
func (m *YOLO11) PostProcess(output []float32) ([]postprocess.Detection, error) {
	candidates, err := postprocess.Decode(output, m.options.DecodeConfig())
	if err != nil {
		return nil, err
	}
	return postprocess.ApplyNMS(candidates, m.options.NMS), nil
}

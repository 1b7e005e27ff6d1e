// Package model - Detection model contract and validated shape configuration.
package model

import (
	"image"

	"github.com/pkg/errors"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// ErrInvalidConfig is returned when a model configuration is inconsistent.
var ErrInvalidConfig = errors.New("invalid model config")

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO is the YOLO model family (anchor-free, [4+classes, boxes] output).
	ModelFamilyYOLO Family = "yolo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLO11 is the name of the YOLO11 detection model.
	ModelNameYOLO11 Name = "yolo11"
	// ModelNameYOLOv8 is the name of the YOLOv8 detection model. It shares the YOLO11 output layout.
	ModelNameYOLOv8 Name = "yolov8"
)

// Config describes a detection model: where it lives, the input it expects and the output it
// produces. It is validated once at startup so that the decoder never has to inspect a live
// engine for shapes.
type Config struct {
	Name   Name   `json:"name" yaml:"name"`
	Family Family `json:"family" yaml:"family"`
	Path   string `json:"path" yaml:"path"`
	// InputSize is the side length of the square model input.
	InputSize int `json:"input_size" yaml:"input_size"`
	// NumBoxes is the number of candidate boxes per output.
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
	// NumClasses is the number of class score channels per box.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ChannelOrder is the input tensor layout.
	ChannelOrder preprocess.ChannelOrder `json:"channel_order" yaml:"channel_order"`
	// Resample is the resize filter used by the letterbox.
	Resample            string                `json:"resample" yaml:"resample"`
	ConfidenceThreshold float32               `json:"confidence_threshold" yaml:"confidence_threshold"`
	NMS                 postprocess.NMSConfig `json:"nms" yaml:"nms"`
	Inputs              []string              `json:"inputs" yaml:"inputs"`
	Outputs             []string              `json:"outputs" yaml:"outputs"`
}

// Model is a detection model: preprocessing into its input tensor and postprocessing of its raw
// output. Running the network is left to an inference engine.
type Model interface {
	Options() Config
	PreProcess(img image.Image) (*preprocess.Result, error)
	PostProcess(output []float32) ([]postprocess.Detection, error)
}

// Validate checks the configuration for internal consistency.
//
// Returns:
//   - error: ErrInvalidConfig wrapped with the offending field, or nil.
func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input_size must be positive, got %d", c.InputSize)
	}
	if c.NumBoxes <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_boxes must be positive, got %d", c.NumBoxes)
	}
	if c.NumClasses <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_classes must be positive, got %d", c.NumClasses)
	}
	switch c.ChannelOrder {
	case "", preprocess.ChannelOrderHWC, preprocess.ChannelOrderCHW:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown channel_order %q", c.ChannelOrder)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "confidence_threshold must be in [0, 1), got %v", c.ConfidenceThreshold)
	}
	if c.NMS.IoUThreshold < 0 || c.NMS.IoUThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "nms.iou_threshold must be in [0, 1], got %v", c.NMS.IoUThreshold)
	}
	if c.NMS.MaxDetections < 0 {
		return errors.Wrapf(ErrInvalidConfig, "nms.max_detections must not be negative, got %d", c.NMS.MaxDetections)
	}
	return nil
}

// InputShape returns the input tensor shape with a leading batch dimension.
func (c Config) InputShape() []int64 {
	s := int64(c.InputSize)
	if c.ChannelOrder == preprocess.ChannelOrderCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// OutputShape returns the expected [1, 4+classes, boxes] output tensor shape.
func (c Config) OutputShape() []int64 {
	return []int64{1, int64(4 + c.NumClasses), int64(c.NumBoxes)}
}

// InputLen is the number of float32 values in one input tensor.
func (c Config) InputLen() int {
	return c.InputSize * c.InputSize * 3
}

// OutputLen is the number of float32 values in one output tensor.
func (c Config) OutputLen() int {
	return (4 + c.NumClasses) * c.NumBoxes
}

// DecodeConfig returns the decoder view of the configuration.
func (c Config) DecodeConfig() postprocess.DecodeConfig {
	return postprocess.DecodeConfig{
		NumBoxes:            c.NumBoxes,
		NumClasses:          c.NumClasses,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// PreprocessConfig returns the preprocessor view of the configuration.
func (c Config) PreprocessConfig() preprocess.Config {
	return preprocess.Config{
		Name:         string(c.Name),
		InputSize:    c.InputSize,
		ChannelOrder: c.ChannelOrder,
		Resample:     c.Resample,
	}
}

// Package inference - Inference engine contract and engine pooling.
package inference

import (
	"context"

	"github.com/pkg/errors"
)

// ErrInferenceFailure is returned when the network could not produce an output tensor.
var ErrInferenceFailure = errors.New("inference failure")

// EngineType names an inference engine implementation.
type EngineType string

const (
	// EngineTypeONNX runs the model with ONNX Runtime.
	EngineTypeONNX EngineType = "onnx"
	// EngineTypeOpenCV runs the model with the OpenCV DNN module.
	EngineTypeOpenCV EngineType = "opencv"
)

// Engine runs one forward pass of a detection network.
//
// An engine is bound to a single model with static shapes. Implementations are not safe for
// concurrent Infer calls; share them through a Pool.
type Engine interface {
	// Infer runs the network on a preprocessed input tensor and returns a copy of the raw output.
	Infer(ctx context.Context, input []float32) ([]float32, error)
	// Close releases the native resources held by the engine.
	Close() error
}

// Failure wraps err as an ErrInferenceFailure with a message. An error that already is one
// only gains the message.
func Failure(err error, msg string) error {
	if err == nil {
		return errors.Wrap(ErrInferenceFailure, msg)
	}
	if errors.Is(err, ErrInferenceFailure) {
		return errors.Wrap(err, msg)
	}
	return errors.Wrapf(ErrInferenceFailure, "%s: %v", msg, err)
}

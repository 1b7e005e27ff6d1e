// Package detector - End-to-end sea-snail detection: preprocessing, inference, decoding,
// suppression, label mapping and coordinate mapping.
package detector

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// DefaultAcceptThreshold is the minimum score of the top detection for it to be reported.
const DefaultAcceptThreshold float32 = 0.3

// Inferer runs the network. Both inference.Engine and *inference.Pool satisfy it.
type Inferer interface {
	Infer(ctx context.Context, input []float32) ([]float32, error)
}

// Options configures a Detector.
type Options struct {
	// AcceptThreshold gates Result.Best. Zero selects DefaultAcceptThreshold.
	AcceptThreshold float32
	// Logger receives per-request timings. The standard logger is used when nil.
	Logger *log.Entry
}

// Detector runs the detection pipeline for one model.
type Detector struct {
	model   model.Model
	engine  Inferer
	classes *models.ClassManager
	accept  float32
	log     *log.Entry
}

// New creates a detector. classes may be nil, in which case no detection maps to a species.
func New(m model.Model, engine Inferer, classes *models.ClassManager, opts Options) (*Detector, error) {
	if m == nil {
		return nil, errors.Wrap(model.ErrInvalidConfig, "detector requires a model")
	}
	if engine == nil {
		return nil, errors.New("detector requires an inference engine")
	}

	accept := opts.AcceptThreshold
	if accept == 0 {
		accept = DefaultAcceptThreshold
	}
	if accept < 0 || accept > 1 {
		return nil, errors.Errorf("accept threshold must be in [0, 1], got %v", accept)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Detector{
		model:   m,
		engine:  engine,
		classes: classes,
		accept:  accept,
		log:     logger.WithField("model", m.Options().Name),
	}, nil
}

// Model returns the detection model.
func (d *Detector) Model() model.Model {
	return d.model
}

// Detect runs the full pipeline on an image.
//
// Returns:
//   - *Result: All detections after suppression, in original-image coordinates, best first.
//   - error: preprocess.ErrInvalidImage, inference.ErrInferenceFailure or postprocess.ErrDecode
//     wrapped with context, or a context error.
func (d *Detector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()

	pre, err := d.model.PreProcess(img)
	if err != nil {
		return nil, err
	}
	preDone := time.Now()

	raw, err := d.engine.Infer(ctx, pre.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, inference.ErrInferenceFailure) {
			err = inference.Failure(err, "infer")
		}
		return nil, err
	}
	inferDone := time.Now()

	dets, err := d.model.PostProcess(raw)
	if err != nil {
		return nil, err
	}
	end := time.Now()

	result := &Result{
		Width:           pre.OriginalWidth,
		Height:          pre.OriginalHeight,
		Letterbox:       pre.Letterbox,
		AcceptThreshold: d.accept,
		Detections:      make([]Detection, len(dets)),
		Timings: Timings{
			Preprocess:  preDone.Sub(start),
			Inference:   inferDone.Sub(preDone),
			Postprocess: end.Sub(inferDone),
			Total:       end.Sub(start),
		},
	}

	for i, det := range dets {
		out := Detection{Detection: det, Original: pre.Letterbox.Inverse(det.Box)}
		if d.classes != nil {
			out.Species, out.Known = d.classes.Species(det.Label)
		}
		result.Detections[i] = out
	}

	d.log.WithFields(log.Fields{
		"width":       result.Width,
		"height":      result.Height,
		"detections":  len(result.Detections),
		"preprocess":  result.Timings.Preprocess,
		"inference":   result.Timings.Inference,
		"postprocess": result.Timings.Postprocess,
		"total":       result.Timings.Total,
	}).Debug("detection complete")

	return result, nil
}

// DetectBytes decodes an encoded JPEG, PNG or WebP image and runs Detect.
func (d *Detector) DetectBytes(ctx context.Context, data []byte) (*Result, error) {
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(preprocess.ErrInvalidImage, "decode: %v", err)
	}
	return d.Detect(ctx, img)
}

// DetectFile loads an image file, honouring EXIF orientation, and runs Detect.
func (d *Detector) DetectFile(ctx context.Context, path string) (*Result, error) {
	img, err := images.Load(path)
	if err != nil {
		return nil, errors.Wrapf(preprocess.ErrInvalidImage, "load %s: %v", path, err)
	}
	return d.Detect(ctx, img)
}

// IsNoDetection reports whether err belongs to the detection failure taxonomy. Callers present
// such errors as "no detection found".
func IsNoDetection(err error) bool {
	return errors.Is(err, preprocess.ErrInvalidImage) ||
		errors.Is(err, postprocess.ErrDecode) ||
		errors.Is(err, inference.ErrInferenceFailure)
}

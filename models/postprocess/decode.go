package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// ErrDecode is returned when a raw output buffer does not match the configured layout.
var ErrDecode = errors.New("decode error")

// boxChannels is the number of leading channels that describe the box geometry (cx, cy, w, h).
const boxChannels = 4

// DecodeConfig describes the layout of a raw detection output and the confidence cut.
type DecodeConfig struct {
	// NumBoxes is the number of candidate boxes B (8400 for a 640 input).
	NumBoxes int `json:"num_boxes" yaml:"num_boxes"`
	// NumClasses is the number of class score channels.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ConfidenceThreshold is the exclusive lower bound a candidate's best score must exceed.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// Decode turns a channel-major [C, B] output buffer into detection candidates.
//
// Each of the B columns holds (cx, cy, w, h) followed by one already-activated score per
// class. Columns are read in box order; the class with the highest score wins, the lowest
// index on ties, and the candidate is kept only when that score is strictly greater than the
// confidence threshold. Channels beyond 4+NumClasses are ignored.
//
// The input buffer is never modified.
//
// Arguments:
//   - raw: The flattened model output, length C*B.
//   - cfg: The expected layout and confidence threshold.
//
// Returns:
//   - []Detection: Candidates in decode order with boxes in model input pixels.
//   - error: ErrDecode when the buffer length disagrees with the configuration.
//
// @example
// dets, err := Decode(output, DecodeConfig{NumBoxes: 8400, NumClasses: 31, ConfidenceThreshold: 0.25})
func Decode(raw []float32, cfg DecodeConfig) ([]Detection, error) {
	if cfg.NumBoxes <= 0 {
		return nil, errors.Wrapf(ErrDecode, "invalid box count %d", cfg.NumBoxes)
	}
	if cfg.NumClasses <= 0 {
		return nil, errors.Wrapf(ErrDecode, "invalid class count %d", cfg.NumClasses)
	}
	if len(raw) == 0 || len(raw)%cfg.NumBoxes != 0 {
		return nil, errors.Wrapf(ErrDecode, "output length %d is not a multiple of %d boxes", len(raw), cfg.NumBoxes)
	}

	channels := len(raw) / cfg.NumBoxes
	if channels < boxChannels+cfg.NumClasses {
		return nil, errors.Wrapf(ErrDecode, "output has %d channels, need at least %d for %d classes",
			channels, boxChannels+cfg.NumClasses, cfg.NumClasses)
	}

	rows, err := transpose(raw, channels, cfg.NumBoxes)
	if err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, 16)
	for b := 0; b < cfg.NumBoxes; b++ {
		row := rows[b*channels : (b+1)*channels]

		bestClass := 0
		bestScore := row[boxChannels]
		for c := 1; c < cfg.NumClasses; c++ {
			if s := row[boxChannels+c]; s > bestScore {
				bestScore = s
				bestClass = c
			}
		}

		if bestScore <= cfg.ConfidenceThreshold {
			continue
		}

		detections = append(detections, Detection{
			ClassIndex: bestClass,
			Label:      ClassLabel(bestClass),
			Score:      bestScore,
			Box:        images.RectFromCenter(row[0], row[1], row[2], row[3]),
		})
	}

	return detections, nil
}

// transpose returns a box-major [B, C] copy of a channel-major [C, B] buffer.
func transpose(raw []float32, channels, boxes int) ([]float32, error) {
	backing := make([]float32, len(raw))
	copy(backing, raw)
	if boxes == 1 {
		return backing, nil
	}

	t := tensor.New(tensor.WithShape(channels, boxes), tensor.WithBacking(backing))
	if err := t.T(); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}

	rows, ok := t.Data().([]float32)
	if !ok || len(rows) != len(raw) {
		return nil, errors.Wrap(ErrDecode, "unexpected transposed layout")
	}
	return rows, nil
}

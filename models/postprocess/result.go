// Package postprocess - Decoding and suppression of raw detector output.
package postprocess

import (
	"fmt"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// Detection represents a single detection candidate.
type Detection struct {
	// The predicted class index of the detection.
	ClassIndex int `json:"class_index"`
	// The synthetic class label, "Class <index>".
	Label string `json:"label"`
	// The confidence score of the detection.
	Score float32 `json:"score"`
	// The bounding box of the detection in model input pixel coordinates.
	Box images.Rect `json:"box"`
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (confidence %.4f): %s", d.Label, d.Score, d.Box)
}

// ClassLabel returns the synthetic label the decoder attaches to class index i.
func ClassLabel(i int) string {
	return fmt.Sprintf("Class %d", i)
}

package detector

import (
	"time"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// Detection is a suppressed detection with its species and its box in original-image pixels.
type Detection struct {
	postprocess.Detection
	// Species is the species id the label maps to, empty when unknown.
	Species string `json:"species,omitempty"`
	Known   bool   `json:"known"`
	// Original is the box mapped back through the letterbox.
	Original images.Rect `json:"original"`
}

// Timings holds per-stage durations of one Detect call.
type Timings struct {
	Preprocess  time.Duration `json:"preprocess_ns"`
	Inference   time.Duration `json:"inference_ns"`
	Postprocess time.Duration `json:"postprocess_ns"`
	Total       time.Duration `json:"total_ns"`
}

// Result is the outcome of one Detect call.
type Result struct {
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	Letterbox       images.Letterbox `json:"letterbox"`
	AcceptThreshold float32          `json:"accept_threshold"`
	// Detections are ordered by descending score.
	Detections []Detection `json:"detections"`
	Timings    Timings     `json:"timings"`
}

// Top returns the highest scoring detection.
func (r *Result) Top() (Detection, bool) {
	if r == nil || len(r.Detections) == 0 {
		return Detection{}, false
	}
	best := r.Detections[0]
	for _, d := range r.Detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, true
}

// Best returns the top detection when its score reaches the accept threshold and its label maps
// to a known species. Lower-ranked detections are never promoted.
func (r *Result) Best() (Detection, bool) {
	top, ok := r.Top()
	if !ok || top.Score < r.AcceptThreshold || !top.Known {
		return Detection{}, false
	}
	return top, true
}

// ScreenBox maps a detection onto a canvas that shows the original image letterboxed.
func (r *Result) ScreenBox(d Detection, canvasWidth, canvasHeight float32) images.Rect {
	return images.MapToScreen(d.Original, r.Width, r.Height, canvasWidth, canvasHeight)
}

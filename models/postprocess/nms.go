package postprocess

import (
	"sort"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold  float32 `json:"iou_threshold" yaml:"iou_threshold"`   // Overlap above which a box is suppressed.
	ClassAware    bool    `json:"class_aware" yaml:"class_aware"`       // If true, suppress only within same class.
	MaxDetections int     `json:"max_detections" yaml:"max_detections"` // Cap on kept boxes, 0 for no cap.
}

// Suppress runs class-agnostic greedy NMS with the given IoU threshold.
func Suppress(detections []Detection, iouThreshold float32) []Detection {
	return ApplyNMS(detections, NMSConfig{IoUThreshold: iouThreshold})
}

// ApplyNMS performs greedy Non-Maximum Suppression.
//
// Candidates are stable-sorted by descending score, so equal scores keep their input order.
// The front candidate is kept and every remaining candidate overlapping it by more than the
// threshold is dropped; this repeats until no candidates remain. The input slice is not
// modified.
//
// Arguments:
//   - detections: Candidates in any order.
//   - config: NMS configuration. ClassAware restricts suppression to candidates of the same
//     class, MaxDetections caps the output length.
//
// Returns:
//   - Kept detections in descending score order. If no detections are provided, returns nil.
func ApplyNMS(detections []Detection, config NMSConfig) []Detection {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := make([]Detection, n)
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true
		if config.MaxDetections > 0 && len(filtered) == config.MaxDetections {
			break
		}

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.ClassIndex != sorted[j].ClassIndex {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

package images

import "github.com/chewxy/math32"

// Letterbox describes one aspect-preserving fit of a source rectangle into a target
// rectangle: a uniform scale followed by centred padding.
//
// Two independent instances exist per detection-to-display pipeline, one for the model
// input and one for the display canvas. They are recomputed per image and never shared.
type Letterbox struct {
	// Scale is the uniform scale factor applied to the source.
	Scale float32 `json:"scale"`
	// PadX is the horizontal offset of the scaled source inside the target.
	PadX float32 `json:"pad_x"`
	// PadY is the vertical offset of the scaled source inside the target.
	PadY float32 `json:"pad_y"`
}

// NewLetterbox computes the fit of a srcW x srcH rectangle into a dstW x dstH target.
//
// Arguments:
//   - srcW, srcH: Source dimensions. Must be positive.
//   - dstW, dstH: Target dimensions (the model input square or the display canvas).
//
// Returns:
//   - Letterbox: scale = min(dstW/srcW, dstH/srcH), pads centre the scaled source.
//
// @example
// lb := NewLetterbox(1920, 1080, 640, 640) // Scale≈0.333, PadX=0, PadY=140
func NewLetterbox(srcW, srcH, dstW, dstH float32) Letterbox {
	scale := math32.Min(dstW/srcW, dstH/srcH)
	return Letterbox{
		Scale: scale,
		PadX:  (dstW - srcW*scale) / 2,
		PadY:  (dstH - srcH*scale) / 2,
	}
}

// Forward maps a box from source space into target space.
func (l Letterbox) Forward(box Rect) Rect {
	return Rect{
		X1: box.X1*l.Scale + l.PadX,
		Y1: box.Y1*l.Scale + l.PadY,
		X2: box.X2*l.Scale + l.PadX,
		Y2: box.Y2*l.Scale + l.PadY,
	}
}

// Inverse maps a box from target space back into source space. A zero scale leaves the
// box untouched.
func (l Letterbox) Inverse(box Rect) Rect {
	if l.Scale == 0 {
		return box
	}
	return Rect{
		X1: (box.X1 - l.PadX) / l.Scale,
		Y1: (box.Y1 - l.PadY) / l.Scale,
		X2: (box.X2 - l.PadX) / l.Scale,
		Y2: (box.Y2 - l.PadY) / l.Scale,
	}
}

// IsNormalized reports whether a box looks like it is expressed in [0,1] units rather
// than pixels. Only the far edges are inspected, so a genuinely tiny pixel box near the
// origin is indistinguishable from a normalized one.
func IsNormalized(box Rect) bool {
	return box.X2 <= 1 && box.Y2 <= 1
}

// MapToOriginal maps a box from model input space back to original image pixels using
// the letterbox computed when that image was preprocessed.
//
// Boxes in normalized [0,1] units are first scaled by inputSize.
//
// Arguments:
//   - box: A box in model input space, absolute or normalized.
//   - lb: The input letterbox of the same image.
//   - inputSize: The model input side length.
//
// Returns:
//   - Rect: The box in original image pixel coordinates.
func MapToOriginal(box Rect, lb Letterbox, inputSize int) Rect {
	if IsNormalized(box) {
		box = box.Scale(float32(inputSize))
	}
	return lb.Inverse(box)
}

// MapToScreen maps a box in original image pixels onto a display canvas that shows the
// image fitted with its own letterbox. Zero-area results are returned as is; the caller
// decides whether to draw them.
//
// Arguments:
//   - box: A box in original image pixel coordinates.
//   - imageW, imageH: Original image dimensions.
//   - canvasW, canvasH: Canvas dimensions.
//
// Returns:
//   - Rect: The box in canvas coordinates. Unchanged when the image dimensions are not positive.
func MapToScreen(box Rect, imageW, imageH int, canvasW, canvasH float32) Rect {
	if imageW <= 0 || imageH <= 0 {
		return box
	}
	return NewLetterbox(float32(imageW), float32(imageH), canvasW, canvasH).Forward(box)
}

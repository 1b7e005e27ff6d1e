// Package overlay renders detection boxes on top of an image fitted to a display canvas.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"gocv.io/x/gocv"
)

// Box is one labelled rectangle in original image pixel coordinates.
type Box struct {
	Rect  images.Rect
	Label string
	Score float32
}

// Options controls how the canvas is drawn.
type Options struct {
	// CanvasWidth and CanvasHeight are the display dimensions. Zero means the image size.
	CanvasWidth  int
	CanvasHeight int
	// Color is the box and text colour.
	Color color.RGBA
	// Thickness is the rectangle stroke width in pixels.
	Thickness int
}

// DefaultOptions draws green boxes on a canvas the size of the image.
func DefaultOptions() Options {
	return Options{
		Color:     color.RGBA{R: 0, G: 255, B: 0, A: 0},
		Thickness: 2,
	}
}

// Render fits img into the canvas with a black letterbox, draws every box mapped to screen
// space, and returns the canvas encoded with the extension's codec (".jpg" or ".png").
//
// Boxes whose screen rectangle has no area are skipped.
//
// Arguments:
//   - img: The original image.
//   - boxes: Detections in original image pixel coordinates.
//   - opts: Canvas size and drawing style.
//   - ext: The output file extension, e.g. ".jpg".
//
// Returns:
//   - []byte: The encoded canvas.
//   - error: Non-nil if conversion, drawing or encoding fails.
func Render(img image.Image, boxes []Box, opts Options, ext string) ([]byte, error) {
	canvas, err := draw(img, boxes, opts)
	if err != nil {
		return nil, err
	}
	defer canvas.Close()

	buf, err := gocv.IMEncode(gocv.FileExt(ext), canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// WriteFile renders the overlay and writes it to path. The codec follows the path extension.
func WriteFile(path string, img image.Image, boxes []Box, opts Options) error {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".jpg"
	}

	data, err := Render(img, boxes, opts, ext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write overlay %s: %w", path, err)
	}
	return nil
}

func draw(img image.Image, boxes []Box, opts Options) (gocv.Mat, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()

	imgW, imgH := src.Cols(), src.Rows()
	canvasW, canvasH := opts.CanvasWidth, opts.CanvasHeight
	if canvasW <= 0 || canvasH <= 0 {
		canvasW, canvasH = imgW, imgH
	}

	lb := images.NewLetterbox(float32(imgW), float32(imgH), float32(canvasW), float32(canvasH))
	fitW := clamp(int(math32.Round(float32(imgW)*lb.Scale)), 1, canvasW)
	fitH := clamp(int(math32.Round(float32(imgH)*lb.Scale)), 1, canvasH)
	offX := clamp(int(math32.Round(lb.PadX)), 0, canvasW-fitW)
	offY := clamp(int(math32.Round(lb.PadY)), 0, canvasH-fitH)

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(src, &resized, image.Pt(fitW, fitH), 0, 0, gocv.InterpolationLinear); err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to resize image: %w", err)
	}

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), canvasH, canvasW, gocv.MatTypeCV8UC3)
	roi := canvas.Region(image.Rect(offX, offY, offX+fitW, offY+fitH))
	err = resized.CopyTo(&roi)
	roi.Close()
	if err != nil {
		canvas.Close()
		return gocv.NewMat(), fmt.Errorf("failed to place image on canvas: %w", err)
	}

	thickness := opts.Thickness
	if thickness <= 0 {
		thickness = 2
	}

	for _, b := range boxes {
		screen := images.MapToScreen(b.Rect, imgW, imgH, float32(canvasW), float32(canvasH))
		if screen.Empty() {
			continue
		}

		rect := image.Rect(
			int(math32.Round(screen.X1)), int(math32.Round(screen.Y1)),
			int(math32.Round(screen.X2)), int(math32.Round(screen.Y2)),
		)
		if err := gocv.Rectangle(&canvas, rect, opts.Color, thickness); err != nil {
			canvas.Close()
			return gocv.NewMat(), fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", b.Label, b.Score)
		pt := image.Pt(rect.Min.X, max(rect.Min.Y-5, 12))
		if err := gocv.PutText(&canvas, label, pt, gocv.FontHersheySimplex, 0.5, opts.Color, 1); err != nil {
			canvas.Close()
			return gocv.NewMat(), fmt.Errorf("failed to draw text: %w", err)
		}
	}

	return canvas, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

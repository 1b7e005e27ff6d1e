// Package preprocess - Letterbox preprocessing of images into model input tensors.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// ErrInvalidImage is returned when an image cannot be turned into an input tensor.
var ErrInvalidImage = errors.New("invalid image")

// ChannelOrder defines the ordering of image channels.
type ChannelOrder string

const (
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC ChannelOrder = "hwc"
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = "chw"
)

// ColorMode defines the channel sequence written to the tensor.
type ColorMode string

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = "rgb"
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR ColorMode = "bgr"
)

// Config defines preprocessing configuration for a specific model.
type Config struct {
	// Name of the model for error messages.
	Name string
	// InputSize is the side length of the square model input.
	InputSize int
	// ChannelOrder defines the channel ordering (HWC or CHW).
	ChannelOrder ChannelOrder
	// ColorMode defines the channel sequence (RGB or BGR).
	ColorMode ColorMode
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color
	// Resample names the resize filter: "bilinear" (default), "nearest", "bicubic" or "lanczos3".
	Resample string
}

var resampleFilters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// Result contains the preprocessed image data and metadata.
type Result struct {
	// Data is the preprocessed float32 tensor data, values in [0, 1].
	Data []float32
	// Shape contains the tensor shape with a leading batch dimension, [1, H, W, C] or [1, C, H, W].
	Shape []int64
	// Letterbox is the transform from original image pixels into the model input square. Its
	// pads are the whole-pixel offsets the image was drawn at.
	Letterbox images.Letterbox
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
}

// Preprocessor handles image preprocessing for detection models.
type Preprocessor struct {
	config Config
	filter resize.InterpolationFunction
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
// - config: The model-specific preprocessing configuration.
//
// Returns:
// - A configured Preprocessor instance.
//
// @example
//
//	preprocessor := NewPreprocessor(Config{
//	    Name:         "yolo11",
//	    InputSize:    640,
//	    ChannelOrder: ChannelOrderCHW,
//	})
func NewPreprocessor(config Config) *Preprocessor {
	if config.LetterboxColor == nil {
		config.LetterboxColor = color.Black
	}
	if config.ChannelOrder == "" {
		config.ChannelOrder = ChannelOrderHWC
	}
	if config.ColorMode == "" {
		config.ColorMode = ColorModeRGB
	}
	filter, ok := resampleFilters[config.Resample]
	if !ok {
		config.Resample = "bilinear"
		filter = resize.Bilinear
	}

	return &Preprocessor{config: config, filter: filter}
}

// Config returns the effective configuration.
func (p *Preprocessor) Config() Config {
	return p.config
}

// Preprocess letterboxes an image into the model input square and converts it to a tensor.
//
// The image is scaled uniformly by min(size/width, size/height), drawn centred on a canvas
// filled with the letterbox color, and every 8-bit channel is divided by 255. The source
// image is not modified.
//
// Arguments:
// - img: The input image to preprocess.
//
// Returns:
// - Result containing the tensor and the letterbox used.
// - ErrInvalidImage if the image is nil or has a zero dimension.
//
// @example
//
//	result, err := preprocessor.Preprocess(img)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// tensor := result.Data
func (p *Preprocessor) Preprocess(img image.Image) (*Result, error) {
	if err := p.validateInput(img); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	letterboxed, lb := p.resizeImage(img)

	return &Result{
		Data:           p.imageToTensor(letterboxed),
		Shape:          p.shape(),
		Letterbox:      lb,
		OriginalWidth:  width,
		OriginalHeight: height,
	}, nil
}

// PreprocessBytes decodes encoded image bytes (JPEG, PNG or WebP) and preprocesses them.
func (p *Preprocessor) PreprocessBytes(data []byte) (*Result, error) {
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidImage, "%s: %v", p.config.Name, err)
	}
	return p.Preprocess(img)
}

// validateInput rejects images that cannot be letterboxed.
func (p *Preprocessor) validateInput(img image.Image) error {
	if img == nil {
		return errors.Wrap(ErrInvalidImage, "image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return errors.Wrapf(ErrInvalidImage, "invalid image dimensions: %dx%d", b.Dx(), b.Dy())
	}
	if p.config.InputSize <= 0 {
		return errors.Wrapf(ErrInvalidImage, "invalid input size %d for %s", p.config.InputSize, p.config.Name)
	}
	return nil
}

// resizeImage scales the image into the input square with letterbox padding.
//
// Arguments:
// - img: The image to resize.
//
// Returns:
// - The letterboxed canvas.
// - The letterbox transform with the whole-pixel pads the image was drawn at.
func (p *Preprocessor) resizeImage(img image.Image) (*image.RGBA, images.Letterbox) {
	size := p.config.InputSize
	bounds := img.Bounds()
	srcWidth, srcHeight := float32(bounds.Dx()), float32(bounds.Dy())

	lb := images.NewLetterbox(srcWidth, srcHeight, float32(size), float32(size))

	// Calculate new dimensions.
	newWidth := clamp(int(math32.Round(srcWidth*lb.Scale)), 1, size)
	newHeight := clamp(int(math32.Round(srcHeight*lb.Scale)), 1, size)
	padLeft := clamp(int(math32.Round(lb.PadX)), 0, size-newWidth)
	padTop := clamp(int(math32.Round(lb.PadY)), 0, size-newHeight)
	lb.PadX, lb.PadY = float32(padLeft), float32(padTop)

	resized := resize.Resize(uint(newWidth), uint(newHeight), img, p.filter)

	letterboxed := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(letterboxed, letterboxed.Bounds(), &image.Uniform{p.config.LetterboxColor}, image.Point{}, draw.Src)
	draw.Draw(letterboxed, image.Rect(padLeft, padTop, padLeft+newWidth, padTop+newHeight),
		resized, resized.Bounds().Min, draw.Over)

	return letterboxed, lb
}

// imageToTensor converts the letterboxed canvas to a normalized float32 tensor.
func (p *Preprocessor) imageToTensor(img *image.RGBA) []float32 {
	size := p.config.InputSize
	plane := size * size
	tensor := make([]float32, plane*3)

	idx := 0
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			ch0, ch1, ch2 := float32(px[0])/255, float32(px[1])/255, float32(px[2])/255
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = ch2, ch0
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[0*plane+y*size+x] = ch0
				tensor[1*plane+y*size+x] = ch1
				tensor[2*plane+y*size+x] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

func (p *Preprocessor) shape() []int64 {
	s := int64(p.config.InputSize)
	if p.config.ChannelOrder == ChannelOrderCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// BatchPreprocess processes multiple images in parallel.
//
// Arguments:
// - imgs: Slice of images to preprocess.
// - maxConcurrency: Maximum number of images to process concurrently.
//
// Returns:
// - Slice of preprocessing results in input order.
// - error if any preprocessing fails.
//
// @example
// results, err := preprocessor.BatchPreprocess([]image.Image{img1, img2, img3}, 4)
//
//	if err != nil {
//	    log.Fatal(err)
//	}
func (p *Preprocessor) BatchPreprocess(imgs []image.Image, maxConcurrency int) ([]*Result, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]*Result, len(imgs))
	errs := make([]error, len(imgs))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, img := range imgs {
		wg.Add(1)
		go func(idx int, img image.Image) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := p.Preprocess(img)
			if err != nil {
				errs[idx] = fmt.Errorf("failed to preprocess image %d: %w", idx, err)
			} else {
				results[idx] = result
			}
		}(i, img)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
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

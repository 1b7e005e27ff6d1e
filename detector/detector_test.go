package detector

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

type candidate struct {
	box   int
	cx    float32
	cy    float32
	w     float32
	h     float32
	class int
	score float32
}

// fakeEngine returns a fixed raw output built from candidates.
type fakeEngine struct {
	cfg        model.Config
	candidates []candidate
	truncate   bool
	err        error
	gotInput   int
}

func (f *fakeEngine) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.gotInput = len(input)
	if f.err != nil {
		return nil, f.err
	}

	nb := f.cfg.NumBoxes
	raw := make([]float32, f.cfg.OutputLen())
	for _, c := range f.candidates {
		raw[0*nb+c.box] = c.cx
		raw[1*nb+c.box] = c.cy
		raw[2*nb+c.box] = c.w
		raw[3*nb+c.box] = c.h
		raw[(4+c.class)*nb+c.box] = c.score
	}
	if f.truncate {
		raw = raw[:len(raw)-1]
	}
	return raw, nil
}

func newTestDetector(t *testing.T, engine *fakeEngine, withClasses bool) *Detector {
	t.Helper()

	m, err := models.NewModel(model.Config{
		Name:                model.ModelNameYOLO11,
		InputSize:           64,
		NumClasses:          31,
		ConfidenceThreshold: 0.25,
		NMS:                 postprocess.NMSConfig{IoUThreshold: 0.5},
	})
	require.NoError(t, err)
	engine.cfg = m.Options()

	var classes *models.ClassManager
	if withClasses {
		classes, err = models.NewClassManagerFor(m.Options(), models.SeaSnailSet, "")
		require.NoError(t, err)
	}

	d, err := New(m, engine, classes, Options{})
	require.NoError(t, err)
	return d
}

func grayImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func TestDetect_MapsToOriginalAndSpecies(t *testing.T) {
	engine := &fakeEngine{candidates: []candidate{
		{box: 5, cx: 32, cy: 32, w: 16, h: 16, class: 0, score: 0.8},
		{box: 9, cx: 33, cy: 32, w: 16, h: 16, class: 2, score: 0.6},
		{box: 40, cx: 8, cy: 24, w: 4, h: 4, class: 30, score: 0.4},
	}}
	d := newTestDetector(t, engine, true)

	result, err := d.Detect(context.Background(), grayImage(128, 64))
	require.NoError(t, err)

	assert.Equal(t, 64*64*3, engine.gotInput)
	assert.Equal(t, 128, result.Width)
	assert.Equal(t, 64, result.Height)
	assert.InDelta(t, 0.5, result.Letterbox.Scale, 1e-6)
	assert.InDelta(t, 16, result.Letterbox.PadY, 1e-4)

	require.Len(t, result.Detections, 2, "Overlapping lower-scored box is suppressed")
	first := result.Detections[0]
	assert.Equal(t, "Class 0", first.Label)
	assert.Equal(t, models.SeaSnailClasses.Classes[0].Name, first.Species)
	assert.True(t, first.Known)
	assert.Equal(t, images.Rect{X1: 24, Y1: 24, X2: 40, Y2: 40}, first.Box, "Model-space box is kept")
	assert.True(t, first.Original.InDelta(images.Rect{X1: 48, Y1: 16, X2: 80, Y2: 48}, 1e-3),
		"got %s", first.Original)

	assert.Equal(t, models.SeaSnailClasses.Classes[30].Name, result.Detections[1].Species)

	best, ok := result.Best()
	require.True(t, ok)
	assert.Equal(t, first, best)

	screen := result.ScreenBox(best, 256, 256)
	assert.True(t, screen.InDelta(images.Rect{X1: 96, Y1: 96, X2: 160, Y2: 160}, 1e-3), "got %s", screen)

	assert.GreaterOrEqual(t, result.Timings.Total, result.Timings.Inference)
}

func TestResult_Best(t *testing.T) {
	tests := []struct {
		name   string
		dets   []Detection
		wantOK bool
	}{
		{"No detections", nil, false},
		{"Below accept threshold", []Detection{
			{Detection: postprocess.Detection{Score: 0.29}, Known: true},
		}, false},
		{"At accept threshold", []Detection{
			{Detection: postprocess.Detection{Score: 0.3}, Known: true},
		}, true},
		{"Unknown species", []Detection{
			{Detection: postprocess.Detection{Score: 0.9}},
		}, false},
		{"Known lower detection is not promoted", []Detection{
			{Detection: postprocess.Detection{Score: 0.9}},
			{Detection: postprocess.Detection{Score: 0.8}, Known: true},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result{AcceptThreshold: DefaultAcceptThreshold, Detections: tt.dets}
			_, ok := r.Best()
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	var nilResult *Result
	_, ok := nilResult.Best()
	assert.False(t, ok)
}

func TestDetect_WithoutClasses(t *testing.T) {
	engine := &fakeEngine{candidates: []candidate{{box: 1, cx: 20, cy: 20, w: 10, h: 10, class: 4, score: 0.9}}}
	d := newTestDetector(t, engine, false)

	result, err := d.Detect(context.Background(), grayImage(64, 64))
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.False(t, result.Detections[0].Known)
	_, ok := result.Best()
	assert.False(t, ok, "Unmapped labels are never accepted")
}

func TestDetect_EmptyIsNotAnError(t *testing.T) {
	d := newTestDetector(t, &fakeEngine{}, true)
	result, err := d.Detect(context.Background(), grayImage(30, 40))
	require.NoError(t, err)
	assert.Empty(t, result.Detections)
}

func TestDetect_Errors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name        string
		engine      *fakeEngine
		ctx         context.Context
		img         image.Image
		target      error
		noDetection bool
	}{
		{"Nil image", &fakeEngine{}, context.Background(), nil, preprocess.ErrInvalidImage, true},
		{"Engine failure", &fakeEngine{err: errors.New("cuda oom")}, context.Background(), grayImage(8, 8), inference.ErrInferenceFailure, true},
		{"Malformed output", &fakeEngine{truncate: true}, context.Background(), grayImage(8, 8), postprocess.ErrDecode, true},
		{"Cancelled", &fakeEngine{}, cancelled, grayImage(8, 8), context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, tt.engine, true)
			result, err := d.Detect(tt.ctx, tt.img)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.noDetection, IsNoDetection(err))
		})
	}
}

func TestDetectBytes(t *testing.T) {
	d := newTestDetector(t, &fakeEngine{}, true)

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(&buf, img))

	result, err := d.DetectBytes(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 20, result.Width)

	_, err = d.DetectBytes(context.Background(), []byte("not an image"))
	assert.True(t, IsNoDetection(err))

	_, err = d.DetectFile(context.Background(), "does/not/exist.jpg")
	assert.ErrorIs(t, err, preprocess.ErrInvalidImage)
}

func TestNew_Validation(t *testing.T) {
	m, err := models.NewModel(model.Config{InputSize: 64, NumClasses: 31})
	require.NoError(t, err)

	_, err = New(nil, &fakeEngine{}, nil, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	_, err = New(m, nil, nil, Options{})
	assert.Error(t, err)
	_, err = New(m, &fakeEngine{}, nil, Options{AcceptThreshold: 1.5})
	assert.Error(t, err)

	d, err := New(m, &fakeEngine{}, nil, Options{AcceptThreshold: 0.6})
	require.NoError(t, err)
	assert.Equal(t, float32(0.6), d.accept)
	assert.Equal(t, m, d.Model())
}

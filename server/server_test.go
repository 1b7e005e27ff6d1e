package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/history"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// snailEngine reports one snail of class 0 centred in the model input.
type snailEngine struct {
	cfg   model.Config
	score float32
	err   error
}

func (e *snailEngine) Infer(_ context.Context, _ []float32) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	nb := e.cfg.NumBoxes
	raw := make([]float32, e.cfg.OutputLen())
	raw[0*nb] = 32
	raw[1*nb] = 32
	raw[2*nb] = 16
	raw[3*nb] = 16
	raw[4*nb] = e.score
	return raw, nil
}

func (e *snailEngine) Close() error { return nil }

type fixture struct {
	server  *Server
	store   *history.Store
	pool    *inference.Pool
	handler http.Handler
}

func newFixture(t *testing.T, score float32, engineErr error, withHistory bool) *fixture {
	t.Helper()

	m, err := models.NewModel(model.Config{
		InputSize:           64,
		NumClasses:          31,
		ConfidenceThreshold: 0.25,
		NMS:                 postprocess.NMSConfig{IoUThreshold: 0.5},
	})
	require.NoError(t, err)

	pool, err := inference.NewPool(2, func(int) (inference.Engine, error) {
		return &snailEngine{cfg: m.Options(), score: score, err: engineErr}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	classes, err := models.NewClassManagerFor(m.Options(), models.SeaSnailSet, "")
	require.NoError(t, err)

	d, err := detector.New(m, pool, classes, detector.Options{})
	require.NoError(t, err)

	f := &fixture{pool: pool}
	opts := Options{Pool: pool}
	if withHistory {
		f.store, err = history.New(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { f.store.Close() })
		opts.History = f.store
	}

	f.server = New(d, opts)
	f.handler = f.server.Handler()
	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeDetect(t *testing.T, rec *httptest.ResponseRecorder) DetectResponse {
	t.Helper()
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestDetect_JSON(t *testing.T) {
	f := newFixture(t, 0.8, nil, true)

	body, _ := json.Marshal(map[string]string{
		"image":  base64.StdEncoding.EncodeToString(pngBytes(t, 128, 64)),
		"source": "camera",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/detect?canvas_width=256&canvas_height=256", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeDetect(t, rec)
	assert.True(t, resp.Found)
	assert.Equal(t, models.SeaSnailClasses.Classes[0].Name, resp.Species)
	assert.Equal(t, "Class 0", resp.Label)
	assert.InDelta(t, 0.8, resp.Score, 1e-6)
	require.NotNil(t, resp.Box)
	assert.True(t, resp.Box.InDelta(images.Rect{X1: 48, Y1: 16, X2: 80, Y2: 48}, 1e-3), "got %s", resp.Box)
	require.NotNil(t, resp.Screen)
	assert.True(t, resp.Screen.InDelta(images.Rect{X1: 96, Y1: 96, X2: 160, Y2: 160}, 1e-3), "got %s", resp.Screen)
	assert.Equal(t, 128, resp.Width)
	assert.NotZero(t, resp.HistoryID)

	records, err := f.store.List(context.Background(), history.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "camera", records[0].Source)
	assert.Equal(t, resp.Species, records[0].Species)
}

func TestDetect_Multipart(t *testing.T) {
	f := newFixture(t, 0.8, nil, true)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "snail.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 64, 64))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeDetect(t, rec).Found)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/history?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Records []history.Record `json:"records"`
		Counts  map[string]int   `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Records, 1)
	assert.Equal(t, "snail.png", hist.Records[0].Source)
	assert.Equal(t, map[string]int{hist.Records[0].Species: 1}, hist.Counts)
}

func TestDetect_RawBody(t *testing.T) {
	f := newFixture(t, 0.8, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader(pngBytes(t, 64, 64)))
	req.Header.Set("Content-Type", "image/png")

	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeDetect(t, rec)
	assert.True(t, resp.Found)
	assert.Zero(t, resp.HistoryID, "Nothing is recorded without a store")
}

func TestDetect_NoDetection(t *testing.T) {
	tests := []struct {
		name      string
		score     float32
		engineErr error
		body      []byte
		wantDets  bool
	}{
		{"Corrupt image", 0.8, nil, []byte("not an image"), false},
		{"Below accept threshold", 0.28, nil, nil, true},
		{"Engine failure", 0.8, errors.New("runtime exploded"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.score, tt.engineErr, true)
			body := tt.body
			if body == nil {
				body = pngBytes(t, 64, 64)
			}

			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader(body)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decodeDetect(t, rec)
			assert.False(t, resp.Found)
			assert.Equal(t, "No detection found", resp.Message)
			assert.Equal(t, tt.wantDets, len(resp.Detections) > 0)

			records, err := f.store.List(context.Background(), history.Filter{})
			require.NoError(t, err)
			assert.Empty(t, records, "Rejected detections are not recorded")
		})
	}
}

func TestDetect_BadRequests(t *testing.T) {
	f := newFixture(t, 0.8, nil, false)

	tests := []struct {
		name        string
		url         string
		contentType string
		body        []byte
	}{
		{"Empty body", "/v1/detect", "", nil},
		{"Malformed JSON", "/v1/detect", "application/json", []byte("{")},
		{"Invalid base64", "/v1/detect", "application/json", []byte(`{"image":"***"}`)},
		{"Missing multipart file", "/v1/detect", "multipart/form-data; boundary=x", []byte("--x--\r\n")},
		{"Bad canvas", "/v1/detect?canvas_width=abc&canvas_height=10", "image/png", pngBytes(t, 8, 8)},
		{"Half canvas", "/v1/detect?canvas_width=100", "image/png", pngBytes(t, 8, 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.url, bytes.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := f.do(t, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request", resp.Code)
		})
	}
}

func TestDetect_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, 0.8, nil, false)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 0.8, nil, false)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "History disabled")

	f = newFixture(t, 0.8, nil, true)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/history?species=Oc_Anh_Vu", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[],"counts":{}}`, rec.Body.String())
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t, 0.8, nil, false)

	f.do(t, httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader(pngBytes(t, 32, 32))))
	f.do(t, httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader([]byte("junk"))))
	f.do(t, httptest.NewRequest(http.MethodPost, "/v1/detect", nil))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics struct {
		Requests    int64                 `json:"requests"`
		Found       int64                 `json:"found"`
		NotFound    int64                 `json:"not_found"`
		BadRequests int64                 `json:"bad_requests"`
		Pool        inference.PoolMetrics `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, int64(3), metrics.Requests)
	assert.Equal(t, int64(1), metrics.Found)
	assert.Equal(t, int64(1), metrics.NotFound)
	assert.Equal(t, int64(1), metrics.BadRequests)
	assert.Equal(t, 2, metrics.Pool.Size)
	assert.Equal(t, int64(1), metrics.Pool.TotalAcquired)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.pool.Close())
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_UnavailableWhenEngineCannotBeRebuilt(t *testing.T) {
	m, err := models.NewModel(model.Config{InputSize: 64, NumClasses: 31, ConfidenceThreshold: 0.25})
	require.NoError(t, err)

	pool, err := inference.NewPool(1, func(i int) (inference.Engine, error) {
		if i < 0 {
			return nil, errors.New("model file gone")
		}
		return &snailEngine{cfg: m.Options(), err: errors.New("device lost")}, nil
	})
	require.NoError(t, err)
	pool.SetAcquireTimeout(10 * time.Millisecond)
	t.Cleanup(func() { pool.Close() })

	d, err := detector.New(m, pool, nil, detector.Options{})
	require.NoError(t, err)
	handler := New(d, Options{Pool: pool}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader(pngBytes(t, 32, 32))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeDetect(t, rec).Found)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, pool.Metrics().Missing)
}

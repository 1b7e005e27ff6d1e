package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/history"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// DetectResponse is the body of a detection answer.
type DetectResponse struct {
	Found   bool    `json:"found"`
	Message string  `json:"message"`
	Species string  `json:"species,omitempty"`
	Label   string  `json:"label,omitempty"`
	Score   float32 `json:"score,omitempty"`
	// Box is the accepted detection in original-image pixels.
	Box *images.Rect `json:"box,omitempty"`
	// Screen is Box mapped onto the canvas given by canvas_width and canvas_height.
	Screen     *images.Rect         `json:"screen,omitempty"`
	Width      int                  `json:"width,omitempty"`
	Height     int                  `json:"height,omitempty"`
	Detections []detector.Detection `json:"detections"`
	HistoryID  int64                `json:"history_id,omitempty"`
	Timings    *detector.Timings    `json:"timings,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type upload struct {
	data   []byte
	source string
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	requestID := fmt.Sprintf("%d", time.Now().UnixNano())
	logger := s.log.WithField("request_id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	up, err := s.readUpload(r)
	if err != nil {
		s.badRequests.Add(1)
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	canvasW, canvasH, err := canvasSize(r)
	if err != nil {
		s.badRequests.Add(1)
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	result, err := s.detector.DetectBytes(ctx, up.data)
	switch {
	case err == nil:
	case detector.IsNoDetection(err):
		s.notFound.Add(1)
		logger.WithError(err).Info("no detection found")
		sendJSON(w, http.StatusOK, DetectResponse{Message: "No detection found", Detections: []detector.Detection{}})
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.failures.Add(1)
		sendErrorResponse(w, "timeout", err.Error(), http.StatusGatewayTimeout)
		return
	default:
		s.failures.Add(1)
		logger.WithError(err).Error("detection failed")
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := DetectResponse{
		Message:    "No detection found",
		Width:      result.Width,
		Height:     result.Height,
		Detections: result.Detections,
		Timings:    &result.Timings,
	}

	best, ok := result.Best()
	if !ok {
		s.notFound.Add(1)
		sendJSON(w, http.StatusOK, resp)
		return
	}

	s.found.Add(1)
	resp.Found = true
	resp.Message = "Detected " + best.Species
	resp.Species = best.Species
	resp.Label = best.Label
	resp.Score = best.Score
	resp.Box = &best.Original
	if canvasW > 0 && canvasH > 0 {
		screen := result.ScreenBox(best, canvasW, canvasH)
		resp.Screen = &screen
	}

	if s.opts.History != nil {
		rec := &history.Record{
			Species:     best.Species,
			Label:       best.Label,
			Score:       best.Score,
			Box:         best.Original,
			ImageWidth:  result.Width,
			ImageHeight: result.Height,
			Source:      up.source,
		}
		if id, err := s.opts.History.Insert(ctx, rec); err != nil {
			logger.WithError(err).Error("failed to save history")
		} else {
			resp.HistoryID = id
		}
	}

	logger.WithFields(log.Fields{
		"species": best.Species,
		"score":   best.Score,
		"total":   result.Timings.Total,
	}).Info("detection accepted")

	sendJSON(w, http.StatusOK, resp)
}

// readUpload extracts the image bytes from a JSON base64, multipart or raw body.
func (s *Server) readUpload(r *http.Request) (*upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	source := r.URL.Query().Get("source")

	var (
		up  *upload
		err error
	)
	switch mediaType {
	case "application/json":
		up, err = readJSONUpload(r)
	case "multipart/form-data":
		up, err = readMultipartUpload(r, s.opts.MaxUploadBytes)
	default:
		var data []byte
		data, err = io.ReadAll(r.Body)
		up = &upload{data: data}
	}
	if err != nil {
		return nil, err
	}
	if len(up.data) == 0 {
		return nil, errors.New("empty image")
	}

	if source != "" {
		up.source = source
	}
	if up.source == "" {
		up.source = "upload"
	}
	return up, nil
}

func readJSONUpload(r *http.Request) (*upload, error) {
	var req struct {
		Image  string `json:"image"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "invalid json body")
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 image")
	}
	return &upload{data: data, source: req.Source}, nil
}

func readMultipartUpload(r *http.Request, maxBytes int64) (*upload, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &upload{data: data, source: header.Filename}, nil
}

func canvasSize(r *http.Request) (float32, float32, error) {
	q := r.URL.Query()
	if q.Get("canvas_width") == "" && q.Get("canvas_height") == "" {
		return 0, 0, nil
	}
	w, err := strconv.ParseFloat(q.Get("canvas_width"), 32)
	if err != nil || w <= 0 {
		return 0, 0, errors.New("canvas_width must be a positive number")
	}
	h, err := strconv.ParseFloat(q.Get("canvas_height"), 32)
	if err != nil || h <= 0 {
		return 0, 0, errors.New("canvas_height must be a positive number")
	}
	return float32(w), float32(h), nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		sendErrorResponse(w, "history_disabled", "history is not enabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	filter := history.Filter{Species: q.Get("species")}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				sendErrorResponse(w, "invalid_request", name+" must be a non-negative integer", http.StatusBadRequest)
				return
			}
			*dst = n
		}
	}

	records, err := s.opts.History.List(r.Context(), filter)
	if err != nil {
		sendErrorResponse(w, "history_error", err.Error(), http.StatusInternalServerError)
		return
	}
	counts, err := s.opts.History.CountBySpecies(r.Context())
	if err != nil {
		sendErrorResponse(w, "history_error", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"records": records, "counts": counts})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"requests":       s.requests.Load(),
		"found":          s.found.Load(),
		"not_found":      s.notFound.Load(),
		"bad_requests":   s.badRequests.Load(),
		"failures":       s.failures.Load(),
	}
	if s.opts.Pool != nil {
		response["pool"] = s.opts.Pool.Metrics()
	}
	sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "model": string(s.detector.Model().Options().Name)}
	if s.opts.Pool != nil && !s.opts.Pool.Healthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	sendJSON(w, status, body)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{Code: code, Message: message})
}

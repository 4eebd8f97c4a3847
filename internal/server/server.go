// Package server exposes one editing session over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/crop"
	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/segment"
	"github.com/MeKo-Tech/layerstudio/internal/session"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/dustin/go-humanize"
)

// DefaultMaxUploadBytes caps source uploads.
const DefaultMaxUploadBytes = 50 * 1024 * 1024

// allowedUploadTypes are the sniffed content types accepted as a source image.
var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ErrUnsupportedUpload is returned for uploads that are not JPEG, PNG or WebP.
var ErrUnsupportedUpload = errors.New("only JPEG, PNG and WebP images are supported")

// Config configures the API server.
type Config struct {
	Session *session.Session
	Tracker *Tracker
	Logger  *slog.Logger
	// StaticDir is served at / when set.
	StaticDir string
	// MaxUploadBytes limits source uploads (default: 50 MiB)
	MaxUploadBytes int64
	// StreamInterval is the status event period (default: 250ms)
	StreamInterval time.Duration
	Now            func() time.Time
}

// Server routes API requests to a session.
type Server struct {
	session        *session.Session
	tracker        *Tracker
	logger         *slog.Logger
	now            func() time.Time
	staticDir      string
	maxUpload      int64
	streamInterval time.Duration
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		session:        cfg.Session,
		tracker:        cfg.Tracker,
		logger:         cfg.Logger,
		now:            cfg.Now,
		staticDir:      cfg.StaticDir,
		maxUpload:      cfg.MaxUploadBytes,
		streamInterval: cfg.StreamInterval,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)

	mux.HandleFunc("POST /api/source", s.action(s.handleSource))
	mux.HandleFunc("POST /api/edit", s.action(s.handleEdit))
	mux.HandleFunc("POST /api/generate", s.action(s.handleGenerate))
	mux.HandleFunc("POST /api/segment", s.action(s.handleSegment))
	mux.HandleFunc("POST /api/crop", s.action(s.handleCrop))
	mux.HandleFunc("POST /api/adjustments", s.action(s.handleAdjustment))

	mux.HandleFunc("GET /api/layers", s.handleLayers)
	mux.HandleFunc("GET /api/layers/{id}/raster.png", s.handleRaster)
	mux.HandleFunc("POST /api/layers/{id}/select", s.action(s.handleSelect))
	mux.HandleFunc("POST /api/layers/{id}/visibility", s.action(s.handleVisibility))
	mux.HandleFunc("POST /api/layers/{id}/solo", s.action(s.handleSolo))
	mux.HandleFunc("POST /api/layers/{id}/move", s.action(s.handleMove))
	mux.HandleFunc("DELETE /api/layers/{id}", s.action(s.handleRemove))

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/export.png", s.handleExport)

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	return withCORS(mux)
}

// actionFunc handles a mutating request; a returned error is written as JSON.
type actionFunc func(w http.ResponseWriter, r *http.Request) error

// action tracks a mutating request and maps its error onto a status code.
func (s *Server) action(fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.tracker.begin()
		start := s.now()

		err := fn(w, r)
		s.tracker.end(err)

		if err != nil {
			status := statusFor(err)
			s.log().Warn("Request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"error", err,
			)
			s.writeError(w, status, err)
			return
		}
		s.log().Debug("Request done", "method", r.Method, "path", r.URL.Path, "elapsed", s.now().Sub(start))
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	APIConfigured bool   `json:"apiConfigured"`
	Timestamp     string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		APIConfigured: s.session.EditorConfigured() && s.session.SegmenterConfigured(),
		Timestamp:     s.timestamp(),
	})
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("invalid upload: %w", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return fmt.Errorf("missing image field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	contentType := http.DetectContentType(data)
	if !allowedUploadTypes[contentType] {
		return fmt.Errorf("%w: got %s", ErrUnsupportedUpload, contentType)
	}

	img, _, err := raster.DecodeBytes(data)
	if err != nil {
		return err
	}

	l, err := s.session.ImportSource(img, header.Filename)
	if err != nil {
		return err
	}

	s.log().Info("Received source upload", "file", header.Filename, "size", humanize.IBytes(uint64(len(data))))
	s.writeJSON(w, http.StatusCreated, l)
	return nil
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) error {
	var req types.EditRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	l, err := s.session.Edit(r.Context(), req)
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusCreated, l)
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) error {
	var req types.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	l, err := s.session.Generate(r.Context(), req)
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusCreated, l)
	return nil
}

type segmentResponse struct {
	BackgroundID string   `json:"backgroundId,omitempty"`
	LayerIDs     []string `json:"layerIds"`
	Failed       int      `json:"failed"`
	Total        int      `json:"total"`
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) error {
	res, err := s.session.AutoSegment(r.Context())
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusOK, segmentResponse{
		BackgroundID: res.BackgroundID,
		LayerIDs:     append([]string{}, res.LayerIDs...),
		Failed:       len(res.Failed),
		Total:        res.Total,
	})
	return nil
}

type cropResponse struct {
	TargetID       string `json:"targetId"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	PurgedSegments int    `json:"purgedSegments"`
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) error {
	var rect types.PixelRect
	if err := decodeJSON(r, &rect); err != nil {
		return err
	}
	out, err := s.session.Crop(rect)
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusOK, cropResponse{
		TargetID:       out.TargetID,
		Width:          out.Size.X,
		Height:         out.Size.Y,
		PurgedSegments: out.PurgedSegments,
	})
	return nil
}

func (s *Server) handleAdjustment(w http.ResponseWriter, r *http.Request) error {
	l, err := s.session.AddAdjustment()
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusCreated, l)
	return nil
}

type layersResponse struct {
	Layers     []layer.Layer `json:"layers"`
	SelectedID string        `json:"selectedId,omitempty"`
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	resp := layersResponse{Layers: s.session.Layers()}
	if resp.Layers == nil {
		resp.Layers = []layer.Layer{}
	}
	if sel, ok := s.session.Selected(); ok {
		resp.SelectedID = sel.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRaster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, ok := s.session.Layer(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", layer.ErrLayerNotFound, id))
		return
	}
	if !l.HasRaster() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writePNG(w, l.Raster)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) error {
	if err := s.session.Select(r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type visibilityResponse struct {
	Visible bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) error {
	visible, err := s.session.ToggleVisibility(r.PathValue("id"))
	if err != nil {
		return err
	}
	s.writeJSON(w, http.StatusOK, visibilityResponse{Visible: visible})
	return nil
}

func (s *Server) handleSolo(w http.ResponseWriter, r *http.Request) error {
	if err := s.session.Solo(r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type moveRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) error {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.session.Move(r.PathValue("id"), req.Index); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) error {
	if err := s.session.Remove(r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.session.History()
	if history == nil {
		history = []session.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	img, err := s.session.Flatten()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="export.png"`)
	s.writePNG(w, img)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotConfigured):
		return http.StatusInternalServerError
	case errors.Is(err, layer.ErrLayerNotFound):
		return http.StatusNotFound
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, segment.ErrNoSegments),
		errors.Is(err, crop.ErrCropRejected),
		errors.Is(err, session.ErrBaseChanged):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Timestamp: s.timestamp()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writePNG(w http.ResponseWriter, img *image.NRGBA) {
	data, err := raster.PNGBytes(img)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.log().Error("Failed to write response", "error", err)
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

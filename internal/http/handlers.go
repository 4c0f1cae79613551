package http

import (
	"encoding/json"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/imgcache"
	"github.com/unkn0wn-root/imgcache/internal/views"
)

const jpegQuality = 82

type Handlers struct {
	logger *zap.Logger
	loader *imgcache.Loader[image.Image]
	views  *views.Registry
}

func New(logger *zap.Logger, loader *imgcache.Loader[image.Image], registry *views.Registry) *Handlers {
	return &Handlers{
		logger: logger,
		loader: loader,
		views:  registry,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /thumb", h.HandleThumb)
	mux.HandleFunc("POST /views", h.HandleCreateView)
	mux.HandleFunc("PUT /views/{id}", h.HandleAssignView)
	mux.HandleFunc("GET /views/{id}", h.HandleGetView)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	return h.RequestLoggingMiddleware(mux)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type target struct {
	url  string
	w, h int
}

func parseTarget(q url.Values) (target, bool) {
	t := target{url: q.Get("url")}
	u, err := url.Parse(t.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return t, false
	}
	var ok bool
	if t.w, ok = bound(q.Get("w")); !ok {
		return t, false
	}
	if t.h, ok = bound(q.Get("h")); !ok {
		return t, false
	}
	return t, true
}

// bound parses a dimension; empty means unbounded.
func bound(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 1<<14 {
		return 0, false
	}
	return n, true
}

func (h *Handlers) HandleThumb(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r.URL.Query())
	if !ok {
		http.Error(w, "url must be an absolute http(s) URL; w and h non-negative integers", http.StatusBadRequest)
		return
	}
	img, ok := h.loader.ResolveBlocking(r.Context(), t.url, t.w, t.h)
	if !ok {
		http.Error(w, "Image unavailable", http.StatusBadGateway)
		return
	}
	h.writeJPEG(w, img)
}

func (h *Handlers) HandleCreateView(w http.ResponseWriter, r *http.Request) {
	v := h.views.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"id": v.ID.String()})
}

func (h *Handlers) HandleAssignView(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid view id", http.StatusBadRequest)
		return
	}
	t, ok := parseTarget(r.URL.Query())
	if !ok {
		http.Error(w, "url must be an absolute http(s) URL; w and h non-negative integers", http.StatusBadRequest)
		return
	}
	v := h.views.Ensure(id)
	if err := h.loader.Resolve(r.Context(), t.url, v.Slot, t.w, t.h); err != nil {
		h.logger.Error("resolve failed", zap.String("view", id.String()), zap.Error(err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "tag": t.url})
}

func (h *Handlers) HandleGetView(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid view id", http.StatusBadRequest)
		return
	}
	v, ok := h.views.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	img, tag, ok := v.Slot.Result()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Image-Source", tag)
	w.Header().Set("X-View-Tag", v.Slot.CurrentTag())
	h.writeJPEG(w, img)
}

type statsResponse struct {
	imgcache.Stats
	DiskEnabled bool   `json:"disk_enabled"`
	CacheDir    string `json:"cache_dir,omitempty"`
	Views       int    `json:"views"`
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:       h.loader.Stats(),
		DiskEnabled: h.loader.DiskEnabled(),
		CacheDir:    h.loader.CacheDir(),
		Views:       h.views.Len(),
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) writeJPEG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		h.logger.Warn("jpeg encode failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

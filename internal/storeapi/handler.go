// Package storeapi serves the durable store HTTP API:
//
//	GET    /skins         every stored skin
//	GET    /skins/{uuid}  one owner's skin
//	PUT    /skins/{uuid}  replace one owner's skin
//	DELETE /skins/{uuid}  remove one owner's skin
//
// Every route requires "Authorization: Bearer <api key>".
package storeapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/auth"
	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/service"
)

// maxBody leaves room for base64 expansion of a maximum-size asset.
const maxBody = model.MaxAssetSize*4/3 + model.MaxNameLength + 64<<10

// Handler implements the store API.
type Handler struct {
	skins service.SkinService
	keys  service.KeyAuth
	log   *zap.Logger
	mux   *http.ServeMux
}

// NewHandler wires routes.
func NewHandler(skins service.SkinService, keys service.KeyAuth, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{skins: skins, keys: keys, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /ping", h.Ping)
	h.mux.HandleFunc("GET /skins", h.authed(h.List))
	h.mux.HandleFunc("GET /skins/{uuid}", h.authed(h.Get))
	h.mux.HandleFunc("PUT /skins/{uuid}", h.authed(h.Put))
	h.mux.HandleFunc("DELETE /skins/{uuid}", h.authed(h.Delete))
	return h
}

// ServeHTTP logs every request after it is served.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.log.Info("http",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("dur", time.Since(start)),
		zap.String("peer", clientIP(r)),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Ping answers liveness probes without authentication.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, _ := auth.BearerToken(r.Header.Get("Authorization"))
		if err := h.keys.Authenticate(r.Context(), key, clientIP(r)); err != nil {
			h.fail(w, err)
			return
		}
		next(w, r)
	}
}

// List returns every stored skin.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	skins, err := h.skins.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]convert.SkinJSON, 0, len(skins))
	for _, s := range skins {
		out = append(out, convert.ToSkinJSON(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one owner's skin.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.skins.Get(r.Context(), r.PathValue("uuid"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToSkinJSON(*s))
}

// Put replaces one owner's skin. The path owner wins over the body's uuid.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var in convert.SkinJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&in); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, errs.ErrTooLarge)
			return
		}
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	saved, err := h.skins.Put(r.Context(), r.PathValue("uuid"), convert.FromSkinJSON(in))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToSkinJSON(saved))
}

// Delete removes one owner's skin.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.skins.Delete(r.Context(), r.PathValue("uuid")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="skins"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, errs.ErrRateLimited):
		http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrDimensions):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("store request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package adminapi exposes the identity table over HTTP for operators.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"grillo-telebot/internal/mapping"
)

// Deps holds what the router needs.
type Deps struct {
	Mapper *mapping.Mapper
	Token  string
	Log    *zap.Logger
}

// NewRouter builds the admin router. Everything but /health requires the
// bearer token.
func NewRouter(deps Deps) *chi.Mux {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &mappingHandler{mapper: deps.Mapper, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(echoRequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(deps.Token))
		r.Get("/mappings", h.list)
		r.Put("/mappings/{telegramID}", h.assign)
		r.Delete("/mappings/{telegramID}", h.unmap)
	})
	return r
}

type mappingHandler struct {
	mapper *mapping.Mapper
	log    *zap.Logger
}

type assignReq struct {
	Account string `json:"account"`
}

func (h *mappingHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mappings": h.mapper.Len()})
}

func (h *mappingHandler) list(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	for id, acc := range h.mapper.List() {
		out[strconv.FormatInt(id, 10)] = acc
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *mappingHandler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramID(w, r)
	if !ok {
		return
	}
	var req assignReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.Account == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"account\": \"<id>\"}")
		return
	}
	if err := h.mapper.Assign(id, req.Account); err != nil {
		h.log.Error("assign failed",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.Int64("telegram_id", id),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save mapping")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{strconv.FormatInt(id, 10): req.Account})
}

func (h *mappingHandler) unmap(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramID(w, r)
	if !ok {
		return
	}
	if err := h.mapper.Unmap(id); err != nil {
		h.log.Error("unmap failed",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.Int64("telegram_id", id),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save mapping")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func telegramID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "telegram id must be an integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the same {"error": "..."} shape as the lab service.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

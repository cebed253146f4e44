package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterQueueRoutes 注册排队引擎路由
func (r *Router) RegisterQueueRoutes(h *QueueHandler) {
	r.Handle("/health", methodOnly(http.MethodGet, h.Health))

	r.Handle("/api/v1/entries", methodOnly(http.MethodPost, h.CreateEntry))

	// /api/v1/entries/{id}[/status|/recalculate]
	r.Handle("/api/v1/entries/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/entries/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" || strings.Contains(action, "/") {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		switch action {
		case "":
			methodOnly(http.MethodGet, func(w http.ResponseWriter, req *http.Request) { h.GetEntry(w, req, id) })(w, req)
		case "status":
			methodOnly(http.MethodPost, func(w http.ResponseWriter, req *http.Request) { h.TransitionEntry(w, req, id) })(w, req)
		case "recalculate":
			methodOnly(http.MethodPost, func(w http.ResponseWriter, req *http.Request) { h.RecalculateEntry(w, req, id) })(w, req)
		default:
			writeJSON(w, http.StatusNotFound, Fail("not found"))
		}
	})

	r.Handle("/api/v1/sweep", methodOnly(http.MethodPost, h.Sweep))
	r.Handle("/api/v1/expire", methodOnly(http.MethodPost, h.Expire))
	r.Handle("/api/v1/delayed", methodOnly(http.MethodPost, h.FlagDelayed))

	r.Handle("/api/v1/models", methodOnly(http.MethodGet, h.ModelStatus))
	r.Handle("/api/v1/models/reload", methodOnly(http.MethodPost, h.ReloadModels))

	r.Handle("/api/v1/history/export", methodOnly(http.MethodGet, h.ExportHistory))
}

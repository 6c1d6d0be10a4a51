package http

import (
	"io/fs"
	"net/http"

	"github.com/prabinpebam/wan22-runpod/internal/adapter/http/middleware"
	"github.com/prabinpebam/wan22-runpod/internal/service"
	"github.com/prabinpebam/wan22-runpod/static"
)

type Server struct {
	mux        *http.ServeMux
	handlers   *Handlers
	sseHandler *SSEHandler
}

func NewServer(queueSvc QueueService, settingsSvc SettingsService, healthSvc HealthService, eventBus *service.EventBus) *Server {
	mux := http.NewServeMux()
	handlers := NewHandlers(queueSvc, settingsSvc, healthSvc)
	sseHandler := NewSSEHandler(eventBus, queueSvc, healthSvc)

	s := &Server{
		mux:        mux,
		handlers:   handlers,
		sseHandler: sseHandler,
	}

	s.registerRoutes()
	s.registerStatic()

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/generate", s.handlers.Generate())

	s.mux.HandleFunc("GET /api/queue", s.handlers.Queue())
	s.mux.HandleFunc("GET /api/queue/stats", s.handlers.QueueStats())
	s.mux.HandleFunc("POST /api/queue/clear", s.handlers.ClearQueue())

	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handlers.CancelJob())
	s.mux.HandleFunc("POST /api/jobs/{id}/retry", s.handlers.RetryJob())

	s.mux.HandleFunc("GET /api/settings", s.handlers.GetSettings())
	s.mux.HandleFunc("PUT /api/settings", s.handlers.PutSettings())

	s.mux.HandleFunc("GET /api/theme", s.handlers.GetTheme())
	s.mux.HandleFunc("PUT /api/theme", s.handlers.PutTheme())

	s.mux.HandleFunc("GET /api/health", s.handlers.Health())
	s.mux.HandleFunc("GET /api/presets", s.handlers.Presets())

	s.mux.HandleFunc("GET /api/events", s.sseHandler.Events())
}

func (s *Server) registerStatic() {
	ui, err := fs.Sub(static.FS, "ui")
	if err != nil {
		panic(err)
	}
	s.mux.Handle("GET /{$}", http.FileServer(http.FS(ui)))
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(ui))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.mux).ServeHTTP(w, r)
}

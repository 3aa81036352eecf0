package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/billybjork/billybjork.com/internal/api"
	"github.com/billybjork/billybjork.com/internal/observability/logging"
	"github.com/billybjork/billybjork.com/internal/serverutil"
)

// Config controls the admin HTTP server.
type Config struct {
	Addr            string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	Ready           chan<- struct{}
}

// Server wraps the HTTP server with the route table and middleware chain.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
	ready           chan<- struct{}
}

func New(handler *api.Handler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/api/projects", handler.Projects)
	mux.HandleFunc("/api/projects/", handler.ProjectBySlug)
	mux.HandleFunc("/api/about", handler.About)
	mux.HandleFunc("/api/settings", handler.Settings)
	mux.HandleFunc("/api/upload-media", handler.UploadMedia)
	mux.HandleFunc("/api/video-thumbnails", handler.VideoThumbnails)
	mux.HandleFunc("/api/video-thumbnails/more/", handler.VideoThumbnailsMore)
	mux.HandleFunc("/api/hls-progress/", handler.HLSProgress)
	mux.HandleFunc("/api/generate-sprite-sheet", handler.GenerateSpriteSheet)
	mux.HandleFunc("/api/process-content-video", handler.ProcessContentVideo)
	mux.HandleFunc("/api/content-video-poster", handler.ContentVideoPoster)
	mux.HandleFunc("/api/views", handler.Views)
	mux.HandleFunc("/api/views/", handler.ViewsBySlug)

	handlerChain := http.Handler(mux)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handlerChain)
	handlerChain = requestIDMiddleware(handlerChain, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		// Source-video uploads can take a while on slow links; keep the
		// write timeout generous and rely on ReadHeaderTimeout for slowloris.
		ReadTimeout:  30 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer:      httpServer,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           cfg.Ready,
	}
}

// Handler exposes the composed middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("admin server listening", "addr", s.httpServer.Addr)
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		ShutdownTimeout: s.shutdownTimeout,
		Ready:           s.ready,
	})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/training"
)

// Queue is the slice of *pipeline.Pipeline the API drives.
type Queue interface {
	Register(ctx context.Context, m *model.Media, priority int) error
	Enqueue(ctx context.Context, mediaID string, priority int) error
	RetryFailed(ctx context.Context) (int, error)
	Stats(ctx context.Context) (dispatch.Stats, error)
}

// Presigner turns a storage URL into a temporary playback link.
type Presigner interface {
	Presign(ctx context.Context, storageURL string, expiry time.Duration) (string, error)
}

// Deps wires the server. Nudge, Presigner and Gatherer are optional.
type Deps struct {
	Address    string
	Queue      Queue
	Media      repository.MediaStore
	Training   training.Store
	Presigner  Presigner
	PresignTTL time.Duration
	// Nudge asks the workers to start a batch right away instead of waiting
	// for the scheduler.
	Nudge    func(ctx context.Context) error
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server exposes the media registration and queue operations over HTTP.
type Server struct {
	deps   Deps
	logg   *logging.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(deps Deps) (*Server, error) {
	if deps.Queue == nil {
		return nil, errors.New("queue required")
	}
	if deps.Media == nil {
		return nil, errors.New("media store required")
	}
	if deps.Training == nil {
		return nil, errors.New("training store required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = 15 * time.Minute
	}
	return &Server{deps: deps, logg: deps.Logger}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimiddleware.RequestID,
		s.recoverer,
		s.loggingMiddleware,
		corsMiddleware,
	)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/media", s.handleRegisterMedia)
		r.Get("/media/{id}", s.handleGetMedia)

		r.Post("/queue", s.handleEnqueue)
		r.Post("/queue/retry-failed", s.handleRetryFailed)
		r.Get("/queue/stats", s.handleStats)

		r.Get("/training/{mediaId}", s.handleGetTraining)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.deps.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logg.Info(ctx, fmt.Sprintf("api listening on %s", s.deps.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		ctx := s.logg.WithFields(r.Context(), map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimiddleware.GetReqID(r.Context()),
		})
		s.logg.Debug(ctx, "request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.writeError(r.Context(), w, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

package server

import (
	"context"
	"net"
	"net/http"
	"time"
)

// BuildInfo is reported by /health and the acd_info metric.
type BuildInfo struct {
	Version string
	Commit  string
}

type Config struct {
	Addr         string // e.g. ":8000"
	DataDir      string
	WebRoot      string
	Allowlist    Allowlist
	MaxBodyBytes int64
	JSONErrors   bool
	RateLimit    int // POST requests per minute per IP, 0 disables
	Build        BuildInfo

	// Optional collaborators; nil disables the feature.
	Updater UpdateRunner
	Audit   SaveAuditor
	Mirror  PayloadMirror
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler

	build        BuildInfo
	allow        Allowlist
	store        *PayloadStore
	webRoot      string
	maxBodyBytes int64
	jsonErrors   bool

	metrics *Metrics
	limiter *rateLimiter

	updater       UpdateRunner
	audit         SaveAuditor
	auditBreaker  *CircuitBreaker
	mirror        PayloadMirror
	mirrorBreaker *CircuitBreaker
}

func New(cfg Config) *Server {
	s := &Server{
		build:         cfg.Build,
		allow:         cfg.Allowlist,
		store:         NewPayloadStore(cfg.DataDir),
		webRoot:       cfg.WebRoot,
		maxBodyBytes:  cfg.MaxBodyBytes,
		jsonErrors:    cfg.JSONErrors,
		metrics:       NewMetrics(cfg.Build),
		updater:       cfg.Updater,
		audit:         cfg.Audit,
		auditBreaker:  NewCircuitBreaker("audit", 3, 30*time.Second),
		mirror:        cfg.Mirror,
		mirrorBreaker: NewCircuitBreaker("mirror", 3, 30*time.Second),
	}
	if s.webRoot == "" {
		s.webRoot = "."
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, time.Minute)
	}

	// Wrap middleware: requestID -> logging -> recover -> headers -> routes
	var handler http.Handler = s.routes()
	handler = securityHeadersMiddleware(handler)
	handler = recoverMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// routes dispatches on method first so that GET /save and POST /unknown
// both fall through to the 404 envelope rather than a 405.
func (s *Server) routes() http.Handler {
	var postHandler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save":
			s.saveHandler(w, r)
		case "/run-update":
			s.runUpdateHandler(w, r)
		default:
			notFound(w, r)
		}
	})
	if s.limiter != nil {
		postHandler = s.limiter.middleware(postHandler)
	}

	files := compressionMiddleware(http.FileServer(http.Dir(s.webRoot)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			postHandler.ServeHTTP(w, r)
		case http.MethodGet, http.MethodHead:
			switch r.URL.Path {
			case "/save", "/run-update":
				notFound(w, r)
			case "/health":
				s.healthHandler(w, r)
			case "/live":
				liveHandler(w, r)
			case "/metrics":
				s.metrics.Handler().ServeHTTP(w, r)
			case "/saves":
				s.savesHandler(w, r)
			default:
				if hasDotSegment(r.URL.Path) {
					notFound(w, r)
					return
				}
				files.ServeHTTP(w, r)
			}
		default:
			notFound(w, r)
		}
	})
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.close()
	}
	return s.httpServer.Shutdown(ctx)
}

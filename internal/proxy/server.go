package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"searchveil/internal/config"
	"searchveil/prefs"
	"searchveil/rewrite"
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	App      *config.Config
	Pipeline *rewrite.Pipeline
	Logger   *zap.Logger
	Clock    func() time.Time
	// Registry receives the server metrics. A private registry is created
	// when nil.
	Registry *prometheus.Registry
}

// Server exposes the HTTP handlers of the search front end.
type Server struct {
	cfg          Config
	mux          *http.ServeMux
	handler      http.Handler
	logger       *zap.Logger
	pipeline     *rewrite.Pipeline
	prefs        *prefs.Codec
	sessions     *sessionStore
	upstream     *upstream
	browser      *browser
	elements     *elementCache
	metrics      *metrics
	windowPolicy *bluemonday.Policy
	clock        func() time.Time
}

// New wires a server. Missing pieces fall back to defaults.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		cfg.App = config.Default()
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = rewrite.New(nil, nil, rewrite.WithLogger(cfg.Logger.Named("rewrite")))
	}

	s := &Server{
		cfg:          cfg,
		mux:          http.NewServeMux(),
		logger:       cfg.Logger,
		pipeline:     cfg.Pipeline,
		prefs:        prefs.NewCodec(cfg.App.PreferencesKey, cfg.App.PreferencesEncrypted),
		sessions:     newSessionStore(cfg.App.SessionTTL, cfg.App.Defaults, cfg.Clock),
		elements:     newElementCache(cfg.Clock),
		windowPolicy: windowPolicy(),
		clock:        cfg.Clock,
	}
	s.sessions.secure = strings.HasPrefix(cfg.App.RootURL, "https://")
	s.metrics = newMetrics(cfg.Registry, func() float64 { return float64(s.sessions.len()) })
	s.upstream = newUpstream(cfg.App, cfg.Logger.Named("upstream"), s.metrics)
	if cfg.App.Browser {
		s.browser = newBrowser(cfg.App.UserAgent, cfg.App.BrowserTimeout, cfg.App.MaxBodyBytes, cfg.Logger.Named("browser"))
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.metrics, withSecurityHeaders(s.mux))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases the headless browser, if any.
func (s *Server) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
}

// SweepSessions drops expired sessions every interval until ctx is done.
func (s *Server) SweepSessions(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-t.C:
			if n := s.sessions.sweep(); n > 0 {
				s.logger.Debug("expired sessions dropped", zap.Int("count", n))
			}
		}
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/element", s.handleElement)
	s.mux.HandleFunc("/window", s.handleWindow)
	s.mux.HandleFunc("/config", s.handleConfig)
	s.mux.HandleFunc("/imgres", s.handleImgres)
	s.mux.HandleFunc("/opensearch.xml", s.handleOpenSearch)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/robots.txt", s.handleRobots)
	s.mux.Handle("/metrics", s.metrics.handler())
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// windowPolicy keeps user-generated-content markup plus the page chrome and
// stylesheet links the anonymous view relinks.
func windowPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "main", "header", "footer", "nav", "section", "article", "aside")
	p.AllowAttrs("rel", "href", "type", "media").OnElements("link")
	p.AllowAttrs("srcset", "data-src", "data-srcset", "loading").OnElements("img")
	return p
}

// Package httpapi exposes the onboarding flows to the browser as JSON
// endpoints bound to a session cookie.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portal-onboarding/internal/common/database"
	"portal-onboarding/internal/common/logger"
)

type Server struct {
	config  *Config
	deps    ServiceDependencies
	logger  logger.Logger
	reg     *registry
	limiter *RateLimiter

	// baseCtx outlives requests; payment handshakes run under it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(deps ServiceDependencies, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		deps:    deps,
		logger:  deps.Logger.WithFields(map[string]interface{}{"component": "httpapi"}),
		reg:     newRegistry(),
		limiter: NewRateLimiter(config.RateLimit, config.RateBurst, deps.Logger),
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withSession)

		r.Route("/membership/wizards", func(r chi.Router) {
			r.Post("/", s.createWizard)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getWizard)
				r.Put("/fields", s.setWizardFields)
				r.Post("/family-members", s.addFamilyMember)
				r.Delete("/family-members/{index}", s.removeFamilyMember)
				r.Post("/advance", s.advanceWizard)
				r.Post("/retreat", s.retreatWizard)
				r.Post("/pay", s.payWizard)
				r.Post("/checkout/complete", s.completeCheckout)
				r.Post("/checkout/dismiss", s.dismissCheckout)
				r.Post("/checkout/fail", s.failCheckout)
				r.Post("/submit", s.submitWizard)
			})
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/flows", s.createFlow)
			r.Route("/flows/{id}", func(r chi.Router) {
				r.Get("/", s.getFlow)
				r.Put("/fields", s.setFlowFields)
				r.With(s.limiter.Handler).Post("/credentials", s.submitCredentials)
				r.With(s.limiter.Handler).Post("/code", s.verifyCode)
				r.Post("/reset", s.resetFlow)
			})
			r.Post("/logout", s.logout)
			r.Get("/session", s.currentSession)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := database.CheckAll(ctx, s.deps.Health)
	wizards, flows := s.reg.size()
	body := map[string]interface{}{
		"status":  "healthy",
		"time":    s.deps.Clock().Format(time.RFC3339),
		"wizards": wizards,
		"flows":   flows,
	}
	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["failures"] = failures
	}
	writeJSON(w, status, body)
}

// StartSweeper periodically drops controllers idle longer than the flow TTL.
// It stops when the server is closed.
func (s *Server) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.baseCtx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep drops idle controllers and stale rate limiters.
func (s *Server) Sweep() int {
	cutoff := s.deps.Clock().Add(-s.config.FlowTTL)
	removed := s.reg.sweep(cutoff)
	s.limiter.Cleanup(cutoff)
	if removed > 0 {
		s.logger.Info("Idle flows swept", map[string]interface{}{"removed": removed})
	}
	return removed
}

// Close abandons every pending checkout and stops the sweeper.
func (s *Server) Close() {
	s.cancel()
}

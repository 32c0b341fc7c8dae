package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/server"
)

// Server couples the grant engine with the components only the HTTP edge needs:
// per-IP rate limiting, audit logging and instrumentation.
type Server struct {
	Grants          *server.Server
	Config          *Config
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// NewServer wraps a grant engine for serving over HTTP
func NewServer(grants *server.Server, config *Config) (*Server, error) {
	if grants == nil {
		return nil, fmt.Errorf("grant engine is required")
	}

	config = applyConfigDefaults(config)

	s := &Server{
		Grants:  grants,
		Config:  config,
		Auditor: grants.Auditor,
		Logger:  config.Logger,
	}

	if config.EnableAuditLogging {
		s.Auditor = security.NewAuditor(config.Logger, true)
		grants.SetAuditor(s.Auditor)
	}

	if config.RateLimit.Rate > 0 {
		s.RateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, config.Logger)
	}

	return s, nil
}

// SetInstrumentation enables metrics and spans for the HTTP layer and the grant engine.
// Call before NewHandler.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.Grants.SetInstrumentation(inst)
}

// Close stops background work started by NewServer
func (s *Server) Close() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}

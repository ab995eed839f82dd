package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/presigned"
)

// Pinger reports datastore readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects everything the HTTP surface depends on
type RouterConfig struct {
	Service        kbcontent.Service
	TokenAuth      *jwtauth.JWTAuth
	MaxUploadBytes int64

	// Pinger backs /healthz/ready. Nil reports ready.
	Pinger Pinger

	// Signer and Objects enable /blobs/* for backends that sign their own
	// URLs. Both must be set.
	Signer  *presigned.Signer
	Objects kbcontent.ObjectOpener

	// RequestTimeout bounds each request. Zero disables the timeout.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the full HTTP surface.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(Metrics)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/healthz/ready", Ready(cfg.Pinger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if cfg.Signer != nil && cfg.Objects != nil {
		r.With(presigned.ValidateMiddleware(cfg.Signer)).
			Method(http.MethodGet, "/blobs/*", NewBlobHandler(cfg.Objects))
	}

	content := NewContentHandler(cfg.Service, cfg.MaxUploadBytes)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(jwtauth.Verifier(cfg.TokenAuth))
		r.Use(Authenticator)
		r.Mount("/content", content.Routes())
	})

	return r
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api exposes the resolver and the mutation services over HTTP.
//
// Every mutation names its actor in the request body. The actor is loaded
// from the user store, so the same role and moderation rules apply as for
// calls made through the Go API. Denials are reported as a generic 403 that
// never names the role or grant that was missing.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/grant"
	"github.com/holomush/worldgate/internal/identity"
	"github.com/holomush/worldgate/internal/moderation"
	"github.com/holomush/worldgate/internal/world"
)

// DefaultRateLimit is the number of requests per minute allowed per client IP.
const DefaultRateLimit = 600

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Resolver answers permission queries.
type Resolver interface {
	access.Checker
	AllPermissions(ctx context.Context, subject access.Subject, worldID, roomID string) (access.PermissionSet, error)
}

// Config holds the dependencies of a Handler.
type Config struct {
	Resolver   Resolver
	Grants     *grant.Service
	Moderation *moderation.Service
	Audit      *audit.Log
	Users      world.UserRepository
	Rooms      world.RoomRepository
	// Secrets lists the accepted token issuers per world. Worlds without
	// secrets reject session requests.
	Secrets map[string][]identity.Secret
	// RateLimit is requests per minute per client IP. Zero uses
	// DefaultRateLimit; a negative value disables limiting.
	RateLimit int
	// Middlewares run inside the router, after the route is matched.
	Middlewares []func(http.Handler) http.Handler
	Logger      *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	resolver    Resolver
	grants      *grant.Service
	moderation  *moderation.Service
	audit       *audit.Log
	users       world.UserRepository
	rooms       world.RoomRepository
	decoders    map[string]*identity.Decoder
	rateLimit   int
	middlewares []func(http.Handler) http.Handler
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		resolver:    cfg.Resolver,
		grants:      cfg.Grants,
		moderation:  cfg.Moderation,
		audit:       cfg.Audit,
		users:       cfg.Users,
		rooms:       cfg.Rooms,
		decoders:    make(map[string]*identity.Decoder, len(cfg.Secrets)),
		rateLimit:   cfg.RateLimit,
		middlewares: cfg.Middlewares,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      cfg.Logger,
	}
	for worldID, secrets := range cfg.Secrets {
		h.decoders[worldID] = identity.NewDecoder(secrets, identity.WithLeeway(30*time.Second))
	}
	if h.rateLimit == 0 {
		h.rateLimit = DefaultRateLimit
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Routes returns the router for the API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.middlewares...)
	if h.rateLimit > 0 {
		r.Use(httprate.Limit(h.rateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			}),
		))
	}

	r.Route("/v1/worlds/{world}", func(r chi.Router) {
		r.Post("/check", h.check)
		r.Post("/permissions", h.permissions)
		r.Post("/sessions", h.session)

		r.Get("/grants", h.listWorldGrants)
		r.Put("/grants", h.addWorldGrant)
		r.Delete("/grants", h.removeWorldGrant)
		r.Get("/rooms/{room}/grants", h.listRoomGrants)
		r.Put("/rooms/{room}/grants", h.addRoomGrant)
		r.Delete("/rooms/{room}/grants", h.removeRoomGrant)

		r.Get("/users/{user}/moderation", h.moderationState)
		r.Post("/users/{user}/ban", h.ban)
		r.Post("/users/{user}/silence", h.silence)
		r.Post("/users/{user}/reactivate", h.reactivate)
		r.Delete("/users/{user}", h.deleteUser)

		r.Get("/audit", h.listAudit)
		r.Delete("/audit/{id}", h.deleteAudit)
	})
	return r
}

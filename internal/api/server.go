// Package api exposes the collaboration engine over HTTP: the WebSocket
// endpoint for live editing plus JSON routes for catch-up, memberships and
// invitations.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/auth"
	"github.com/serroba/online-diagrams/internal/collab"
	"github.com/serroba/online-diagrams/internal/invite"
)

const defaultWriteWait = 10 * time.Second

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Server handles HTTP requests for the collaboration API.
type Server struct {
	engine   *collab.Engine
	access   *acl.Oracle
	invites  *invite.Service
	resolver auth.Resolver
	logger   zerolog.Logger
	origins  []string
	checks   map[string]HealthCheck
	upgrader websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Engine   *collab.Engine
	Access   *acl.Oracle
	Invites  *invite.Service
	Resolver auth.Resolver
	Logger   zerolog.Logger

	// AllowedOrigins lists browser origins for CORS and WebSocket
	// upgrades. "*" allows any origin.
	AllowedOrigins []string

	// WriteWait bounds a single WebSocket write. Peers are pinged every
	// 0.9 * PongWait and dropped when no pong arrives in time.
	WriteWait time.Duration
	PongWait  time.Duration

	HealthChecks map[string]HealthCheck
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		engine:    cfg.Engine,
		access:    cfg.Access,
		invites:   cfg.Invites,
		resolver:  cfg.Resolver,
		logger:    cfg.Logger.With().Str("component", "api").Logger(),
		origins:   cfg.AllowedOrigins,
		checks:    cfg.HealthChecks,
		writeWait: cfg.WriteWait,
		pongWait:  cfg.PongWait,
	}

	if s.writeWait <= 0 {
		s.writeWait = defaultWriteWait
	}

	if s.pongWait <= 0 {
		s.pongWait = 60 * time.Second
	}

	s.pingPeriod = s.pongWait * 9 / 10

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(s.middleware()...)

	r.GET("/healthz", s.handleHealth)

	authed := r.Group("/", auth.Middleware(s.resolver))

	authed.GET("/ws", s.handleWebSocket)

	diagrams := authed.Group("/collab/diagrams/:id")
	diagrams.GET("/changes", s.handleChangesSince)
	diagrams.GET("/snapshot", s.handleLatestSnapshot)
	diagrams.GET("/members", s.handleListMembers)
	diagrams.POST("/members", s.handleAddMember)
	diagrams.PATCH("/members/:userId/role", s.handleChangeRole)
	diagrams.DELETE("/members/:userId", s.handleRemoveMember)

	authed.POST("/diagrams/:id/invitations", s.handleCreateInvitation)
	authed.GET("/diagrams/:id/invitations", s.handleListInvitations)
	authed.POST("/invitations/accept", s.handleAcceptInvitation)
	authed.POST("/invitations/:inviteId/revoke", s.handleRevokeInvitation)

	return r
}

// handleHealth runs every health check with a short deadline.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

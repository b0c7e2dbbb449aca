package api

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/logging"
)

// middleware returns the chain applied to every route.
func (s *Server) middleware() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		gin.Recovery(),
		logging.Gin(s.logger),
		cors.New(cors.Config{
			AllowOriginFunc:  s.originAllowed,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// originAllowed also accepts requests without an Origin header, which
// come from non-browser clients.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}

	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

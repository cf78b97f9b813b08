package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vigia/internal/core/domain"
	"vigia/internal/core/services"
	"vigia/internal/infrastructure/middleware"
	"vigia/internal/infrastructure/signal"
)

// SessionHandler is the admin-facing REST view over the relay's live state.
type SessionHandler struct {
	relay       *signal.RelayServer
	authService services.AuthService
}

func NewSessionHandler(relay *signal.RelayServer, authService services.AuthService) *SessionHandler {
	return &SessionHandler{
		relay:       relay,
		authService: authService,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(h.authService))
	admin := api.Group("")
	admin.Use(middleware.RequireRole(domain.RoleAdmin))
	{
		admin.GET("/roster", h.GetRoster)
		admin.GET("/stats", h.GetStats)
	}
}

func (h *SessionHandler) GetRoster(c *gin.Context) {
	roster := h.relay.RosterSnapshot()
	if roster == nil {
		roster = []domain.RosterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"participants": roster,
		"count":        len(roster),
	})
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":  h.relay.ConnectionCount(),
		"participants": len(h.relay.RosterSnapshot()),
	})
}

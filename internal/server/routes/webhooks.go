package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/rostersync/rostersync/internal/webhooks/federation"
)

// WebhookRoutes bridges inbound federation webhooks onto the echo server.
type WebhookRoutes struct {
	handler *federation.Handler
}

func NewWebhookRoutes(handler *federation.Handler) *WebhookRoutes {
	return &WebhookRoutes{handler: handler}
}

// RegisterRoutes registers the federation webhook receiver.
func (r *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/webhooks/federation/:code", func(c echo.Context) error {
		return r.handler.Handle(c.Response(), c.Request(), c.Param("code"))
	})
}

package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "apigate/internal/api/context"
	"apigate/internal/api/handlers"
	"apigate/internal/api/middleware"
	"apigate/internal/pkg/errors"
	"apigate/internal/platform/auth"
)

type Dependencies struct {
	APIKeyHandler    *handlers.APIKeyHandler
	WebhookHandler   *handlers.WebhookHandler
	UsageHandler     *handlers.UsageHandler
	EventHandler     *handlers.EventHandler
	AuthMiddleware   *middleware.AuthMiddleware
	APIKeyMiddleware *middleware.APIKeyMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/healthz", wrap(handlers.Health))

	// Middleware references
	authMid := deps.AuthMiddleware
	keyMid := deps.APIKeyMiddleware

	// API key management (dashboard, JWT-authenticated)
	router.POST("/api/v1/keys",
		chain(deps.APIKeyHandler.Create, authMid.Handle, requireRole("admin", "owner")))
	router.GET("/api/v1/keys",
		chain(deps.APIKeyHandler.List, authMid.Handle))
	router.PATCH("/api/v1/keys/:key_id",
		chain(deps.APIKeyHandler.Update, authMid.Handle, requireRole("admin", "owner")))
	router.POST("/api/v1/keys/:key_id/revoke",
		chain(deps.APIKeyHandler.Revoke, authMid.Handle, requireRole("admin", "owner")))
	router.DELETE("/api/v1/keys/:key_id",
		chain(deps.APIKeyHandler.Delete, authMid.Handle, requireRole("owner")))

	// Webhook management
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, authMid.Handle, requireRole("admin", "owner")))
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, authMid.Handle))
	router.GET("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Update, authMid.Handle, requireRole("admin", "owner")))
	router.DELETE("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Delete, authMid.Handle, requireRole("admin", "owner")))
	router.GET("/api/v1/webhooks/:webhook_id/deliveries",
		chain(deps.WebhookHandler.ListDeliveries, authMid.Handle))
	router.POST("/api/v1/deliveries/:delivery_id/redeliver",
		chain(deps.WebhookHandler.Redeliver, authMid.Handle, requireRole("admin", "owner")))

	// Usage dashboard
	router.GET("/api/v1/usage/stats",
		chain(deps.UsageHandler.Stats, authMid.Handle))
	router.GET("/api/v1/usage/quota",
		chain(deps.UsageHandler.Quota, authMid.Handle))
	router.PUT("/api/v1/usage/quota",
		chain(deps.UsageHandler.UpdateQuota, authMid.Handle, requireRole("owner")))
	router.GET("/api/v1/usage/requests",
		chain(deps.UsageHandler.Recent, authMid.Handle))

	// Gateway surface (API-key authenticated, rate limited, metered)
	router.GET("/gw/v1/ping",
		chain(deps.EventHandler.Ping, keyMid.Handle))
	router.POST("/gw/v1/events",
		chain(deps.EventHandler.Publish, keyMid.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}

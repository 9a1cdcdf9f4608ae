package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/onerecurr/adapters/metrics"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/layer-3/onerecurr/service"
	"golang.org/x/time/rate"
)

// RelayControl is the part of the relay client the API drives directly.
type RelayControl interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Disconnect()
	Status() core.ConnectionStatus
	Attempts() int
	Queued() int
}

// Services are the handlers' dependencies. Actions may be nil when no chain
// endpoint is configured.
type Services struct {
	Registry ports.ProviderRegistry
	Wallet   *service.WalletService
	Sessions *service.SessionService
	Auth     *service.AuthService
	Channels *service.ChannelService
	Relay    RelayControl
	Actions  *service.ActionService
	Prices   *service.PriceCheckService
}

// RateLimit is the per-client budget on the protected group.
type RateLimit struct {
	Rate  rate.Limit
	Burst int
}

// SetupRouter sets up the Gin router
func SetupRouter(svc Services, limit RateLimit) *gin.Engine {
	router := gin.Default()

	h := NewHandlers(svc)

	wallet := router.Group("/wallet")
	{
		wallet.GET("", h.Wallet)
		wallet.GET("/providers", h.Providers)
		wallet.POST("/connect", h.ConnectWallet)
		wallet.POST("/disconnect", h.DisconnectWallet)
	}

	session := router.Group("/session")
	{
		session.POST("", h.CreateSession)
		session.GET("", h.Session)
		session.DELETE("", h.ClearSession)
	}

	relay := router.Group("/relay")
	{
		relay.GET("", h.Relay)
		relay.POST("/connect", h.ConnectRelay)
		relay.POST("/disconnect", h.DisconnectRelay)
	}

	router.GET("/action/count", h.ActionCount)
	router.GET("/price/thresholds", h.Thresholds)
	router.POST("/price/check", h.CheckPrice)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Everything below acts with the session key.
	api := router.Group("")
	api.Use(RateLimitMiddleware(limit.Rate, limit.Burst), AuthMiddleware(svc.Auth))
	{
		api.GET("/channel", h.Channel)
		api.POST("/channel/open", h.OpenChannel)
		api.POST("/channel/tip", h.SendTip)
		api.POST("/channel/close", h.CloseChannel)
		api.POST("/action/perform", h.PerformAction)
		api.PUT("/price/thresholds", h.SetThresholds)
		api.POST("/price/validate", h.ValidateSwapPrice)
		api.POST("/session/logout", h.Logout)
	}

	return router
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-client/internal/middleware"
	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

// NoticeSource lists notices that have not expired.
type NoticeSource interface {
	Active() []telemetry.Notice
}

// RouterDeps groups what NewRouter needs.
type RouterDeps struct {
	Handler     *ConversationHandler
	Sessions    middleware.SessionSource
	Notices     NoticeSource
	ServiceName string
	Debug       DebugEmitter
	Logger      *zap.Logger
}

// NewRouter builds the local presentation API.
func NewRouter(d RouterDeps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(d.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.LogRequest(logger, func(path string) bool { return path == "/metrics" }))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/notices", func(c *gin.Context) {
		notices := []telemetry.Notice{}
		if d.Notices != nil {
			notices = append(notices, d.Notices.Active()...)
		}
		c.JSON(http.StatusOK, gin.H{"notices": notices})
	})

	guard := middleware.SessionGuard(d.Sessions)
	h := d.Handler

	router.GET("/status", guard, h.Status)
	router.POST("/conversation", guard, h.OpenConversation)
	router.GET("/conversation/messages", guard, h.GetMessages)
	router.POST("/conversation/messages", guard, h.PostMessage)
	router.PATCH("/conversation/messages/:message_id", guard, h.EditMessage)
	router.DELETE("/conversation/messages/:message_id", guard, h.DeleteMessage)
	router.DELETE("/conversation/messages/:message_id/unsend", guard, h.UnsendMessage)
	router.POST("/conversation/read", guard, h.MarkRead)
	router.POST("/conversation/typing", guard, h.Typing)

	RegisterDebugRoutes(router, d.Debug, d.Debug != nil)
	return router
}

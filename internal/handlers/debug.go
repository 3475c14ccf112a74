package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DebugEmitter emits a notice on demand.
type DebugEmitter interface {
	Emit(ctx context.Context, level, text string)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter DebugEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/notice", func(c *gin.Context) {
		var req struct {
			Level string `json:"level" binding:"required,oneof=ERROR SUCCESS INFO"`
			Text  string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		emitter.Emit(c.Request.Context(), req.Level, req.Text)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

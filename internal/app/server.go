package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"chat-client/internal/config"
	"chat-client/internal/conversation"
	"chat-client/internal/session"
)

// StartServer serves the local presentation API for the app's lifetime.
func StartServer(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, router *gin.Engine, logger *zap.Logger) {
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			go func() {
				logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped", zap.Error(err))
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// RestoreConversation reopens the conversation selected in the session.
func RestoreConversation(lc fx.Lifecycle, sess session.Session, ctrl *conversation.Controller, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if sess.SelectedFriendID == 0 {
				return nil
			}
			go func() {
				if err := ctrl.Open(context.Background(), sess.SelectedFriendID); err != nil {
					logger.Warn("failed to restore conversation", zap.Int64("friend_id", sess.SelectedFriendID), zap.Error(err))
				}
			}()
			return nil
		},
	})
}

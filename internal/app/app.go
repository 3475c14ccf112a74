// Package app assembles the client with fx.
package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chat-client/internal/config"
)

// New builds the application graph and runs funcs once it is complete.
func New(cfg *config.Config, logger *zap.Logger, funcs ...any) *fx.App {
	return fx.New(Options(cfg, logger, funcs...))
}

// Options is the application graph as a single fx option.
func Options(cfg *config.Config, logger *zap.Logger, funcs ...any) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Supply(cfg, logger),
		fx.Provide(
			newSessionStore,
			newSessionHolder,
			newSession,
			newPublisher,
			newNotifier,
			newEngine,
			newAPIClient,
			newChannelFactory,
			newController,
			newConversationHandler,
			newRouter,
		),
		fx.Invoke(startTracing),
		fx.Invoke(funcs...),
	)
}

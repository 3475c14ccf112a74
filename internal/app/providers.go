package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"chat-client/internal/api"
	"chat-client/internal/config"
	"chat-client/internal/conversation"
	"chat-client/internal/db"
	"chat-client/internal/handlers"
	"chat-client/internal/observability"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/reconcile"
	"chat-client/internal/repositories"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

// ErrNotLoggedIn is returned at startup when no usable session is saved.
var ErrNotLoggedIn = errors.New("not logged in, run `chat-client login` first")

// OpenSessionStore opens the configured session backend.
func OpenSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	switch cfg.Session.Driver {
	case "postgres":
		conn, err := db.Connect(ctx, cfg.Session.DSN, logger)
		if err != nil {
			return nil, err
		}
		return repositories.NewSessionRepo(conn), nil
	default:
		return session.NewPebbleStore(cfg.Session.Path)
	}
}

func newSessionStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := OpenSessionStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func newSessionHolder(store session.Store, cfg *config.Config) *session.Holder {
	return session.NewHolder(store, cfg.Session.Profile)
}

func newSession(holder *session.Holder) (session.Session, error) {
	s, err := holder.Load(context.Background())
	if errors.Is(err, session.ErrSessionNotFound) {
		return session.Session{}, ErrNotLoggedIn
	}
	if err != nil {
		return session.Session{}, err
	}
	if !s.Authenticated() {
		return session.Session{}, ErrNotLoggedIn
	}
	return s, nil
}

func newPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	pub := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.Named("rabbitmq"))
	observability.SetPublisher(pub)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			observability.SetPublisher(nil)
			return pub.Close()
		},
	})
	return pub
}

func newNotifier(cfg *config.Config, pub rabbitmq.Publisher, sess session.Session, logger *zap.Logger) *telemetry.Notifier {
	key := cfg.AMQP.NoticesRouteKey
	if key == "" {
		key = observability.RoutingKeyNotices
	}
	n := telemetry.NewNotifier(pub, key, cfg.OTel.ServiceName, cfg.Environment, cfg.Conversation.NoticeTTL, logger.Named("notices"))
	n.SetUser(sess.UserID)
	return n
}

func newEngine(sess session.Session, logger *zap.Logger) *reconcile.Engine {
	return reconcile.NewEngine(sess.UserID, logger.Named("reconcile"))
}

func newAPIClient(cfg *config.Config, sess session.Session, logger *zap.Logger) *api.Client {
	return api.NewClient(api.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   sess.Token,
		Timeout: cfg.API.Timeout,
	}, logger.Named("api"))
}

func newChannelFactory(cfg *config.Config, sess session.Session, logger *zap.Logger) conversation.ChannelFactory {
	base := cfg.WS.BaseURL
	if base == "" {
		base = cfg.API.BaseURL
	}
	return func(friendID int64, cb ws.Callbacks) (conversation.Channel, error) {
		if cfg.WS.Disabled {
			return nil, errors.New("real-time channel disabled by configuration")
		}
		ch, err := ws.NewChannel(ws.Options{
			BaseURL:              base,
			Token:                sess.Token,
			FriendID:             friendID,
			UserID:               sess.UserID,
			ReconnectInterval:    cfg.WS.ReconnectInterval,
			MaxReconnectInterval: cfg.WS.MaxReconnectInterval,
			MaxReconnectAttempts: cfg.WS.MaxReconnectAttempts,
			HeartbeatInterval:    cfg.WS.HeartbeatInterval,
			PongTimeout:          cfg.WS.PongTimeout,
			HandshakeTimeout:     cfg.WS.HandshakeTimeout,
		}, cb, logger.Named("ws"))
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

func newController(lc fx.Lifecycle, cfg *config.Config, engine *reconcile.Engine, client *api.Client, dial conversation.ChannelFactory, notifier *telemetry.Notifier, logger *zap.Logger) *conversation.Controller {
	ctrl := conversation.NewController(engine, client, dial, notifier, conversation.Options{
		PollInterval:   cfg.Poll.Interval,
		RequestTimeout: cfg.API.Timeout,
		ConfirmTimeout: cfg.Conversation.ConfirmTimeout,
		TypingIdle:     cfg.Conversation.TypingIdle,
		TypingEvery:    cfg.Conversation.TypingEvery,
	}, logger.Named("conversation"))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			ctrl.Close()
			return nil
		},
	})
	return ctrl
}

func newConversationHandler(ctrl *conversation.Controller, holder *session.Holder, logger *zap.Logger) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(ctrl, holder, logger.Named("handlers"))
}

func newRouter(cfg *config.Config, h *handlers.ConversationHandler, holder *session.Holder, notifier *telemetry.Notifier, logger *zap.Logger) *gin.Engine {
	deps := handlers.RouterDeps{
		Handler:     h,
		Sessions:    holder,
		Notices:     notifier,
		ServiceName: cfg.OTel.ServiceName,
		Logger:      logger.Named("http"),
	}
	if cfg.Environment == "development" {
		deps.Debug = notifier
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return handlers.NewRouter(deps)
}

func startTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = observability.InitTracing(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName, cfg.OTel.Insecure)
			if err != nil {
				logger.Warn("tracing disabled", zap.Error(err))
				shutdown = nil
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

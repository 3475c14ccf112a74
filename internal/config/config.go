// Package config loads client settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment  string             `env:"CHAT_ENV" envDefault:"development"`
	API          APIConfig          `envPrefix:"CHAT_API_"`
	WS           WSConfig           `envPrefix:"CHAT_WS_"`
	Poll         PollConfig         `envPrefix:"CHAT_POLL_"`
	Conversation ConversationConfig `envPrefix:"CHAT_CONVERSATION_"`
	Session      SessionConfig      `envPrefix:"CHAT_SESSION_"`
	Server       ServerConfig       `envPrefix:"CHAT_SERVER_"`
	AMQP         AMQPConfig         `envPrefix:"CHAT_AMQP_"`
	OTel         OTelConfig         `envPrefix:"CHAT_OTEL_"`
	Log          LogConfig          `envPrefix:"CHAT_LOG_"`
}

type APIConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8000" validate:"required,url"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s" validate:"gt=0"`
}

// WSConfig tunes the real-time channel. An empty BaseURL derives the
// channel address from the API base URL.
type WSConfig struct {
	BaseURL              string        `env:"BASE_URL" validate:"omitempty,url"`
	ReconnectInterval    time.Duration `env:"RECONNECT_INTERVAL" envDefault:"3s" validate:"gt=0"`
	MaxReconnectInterval time.Duration `env:"MAX_RECONNECT_INTERVAL" envDefault:"30s" validate:"gtefield=ReconnectInterval"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5" validate:"gte=0"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gt=0"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	HandshakeTimeout     time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	Disabled             bool          `env:"DISABLED" envDefault:"false"`
}

type PollConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"5s" validate:"gt=0"`
}

type ConversationConfig struct {
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	TypingIdle     time.Duration `env:"TYPING_IDLE" envDefault:"3s" validate:"gt=0"`
	TypingEvery    time.Duration `env:"TYPING_EVERY" envDefault:"2s" validate:"gt=0"`
	NoticeTTL      time.Duration `env:"NOTICE_TTL" envDefault:"5s" validate:"gt=0"`
}

type SessionConfig struct {
	Driver  string `env:"DRIVER" envDefault:"pebble" validate:"oneof=pebble postgres"`
	Path    string `env:"PATH,expand" envDefault:"${HOME}/.chat-client/session" validate:"required_if=Driver pebble"`
	DSN     string `env:"DSN" validate:"required_if=Driver postgres"`
	Profile string `env:"PROFILE" envDefault:"default" validate:"required"`
}

type ServerConfig struct {
	Addr string `env:"ADDR" envDefault:"127.0.0.1:8090" validate:"required,hostname_port"`
}

type AMQPConfig struct {
	URL             string `env:"URL"`
	Exchange        string `env:"EXCHANGE" envDefault:"chat.client.events"`
	NoticesRouteKey string `env:"NOTICES_ROUTING_KEY" envDefault:"notices.chats"`
}

type OTelConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	Insecure    bool   `env:"INSECURE" envDefault:"true"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"chat-client"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Format string `env:"FORMAT" envDefault:"console" validate:"oneof=json console"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

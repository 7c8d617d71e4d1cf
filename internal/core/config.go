package core

import (
	"time"
)

type Config struct {
	Discord  DiscordConfig
	Engine   EngineConfig
	Captcha  CaptchaConfig
	Store    StoreConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

type DiscordConfig struct {
	Token string
}

type EngineConfig struct {
	Host     string
	Password string
	// ReconnectDelay is the pause between websocket reconnect attempts.
	ReconnectDelay time.Duration
}

type CaptchaConfig struct {
	SolverURL string
	Timeout   time.Duration
}

type StoreConfig struct {
	DatabasePath string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	// IdleTimeout is how long a session may sit without qualifying activity
	// before it is destroyed.
	IdleTimeout time.Duration
	// ErrorThreshold is the number of consecutive playback errors within
	// ErrorDecayWindow that destroys a session.
	ErrorThreshold   int
	ErrorDecayWindow time.Duration
	// MovedNoticeTTL / EmptyNoticeTTL bound how long the "I left because the
	// channel is empty" notices stay visible.
	MovedNoticeTTL time.Duration
	EmptyNoticeTTL time.Duration
	// QueuePageSize is the number of tracks per page in queue views.
	QueuePageSize int
	// FloodLimitPerMinute caps commands per user per guild per minute.
	FloodLimitPerMinute int
	// RecentTrackCapacity bounds the recently-played store.
	RecentTrackCapacity int
}

const (
	DefaultIdleTimeout      = 20 * time.Minute
	DefaultErrorThreshold   = 3
	DefaultErrorDecayWindow = 30 * time.Second
	DefaultQueuePageSize    = 10
	DefaultFloodLimit       = 6
)

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Host:           "localhost:2333",
			ReconnectDelay: 5 * time.Second,
		},
		Captcha: CaptchaConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			DatabasePath: "./volna.db",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			IdleTimeout:         DefaultIdleTimeout,
			ErrorThreshold:      DefaultErrorThreshold,
			ErrorDecayWindow:    DefaultErrorDecayWindow,
			MovedNoticeTTL:      20 * time.Second,
			EmptyNoticeTTL:      30 * time.Second,
			QueuePageSize:       DefaultQueuePageSize,
			FloodLimitPerMinute: DefaultFloodLimit,
			RecentTrackCapacity: 10000,
		},
	}
}

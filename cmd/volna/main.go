// Package main provides the volna CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"volna/internal/captcha"
	"volna/internal/core"
	"volna/internal/engine/lavalink"
	"volna/internal/flood"
	"volna/internal/gateway/discord"
	httpserver "volna/internal/http"
	"volna/internal/store"
)

const defaultServerHost = "0.0.0.0"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "volna",
	Short: "Volna - Discord music playback orchestrator",
	Long: `Volna runs per-guild playback sessions for a Discord music bot: it resolves
tracks through an external audio node, serializes all command, voice and
node events per guild, and cleans up sessions that go idle or keep failing.`,
	RunE: runVolna,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("discord-token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("engine-host", "localhost:2333", "Audio node host:port")
	rootCmd.PersistentFlags().String("engine-password", "", "Audio node password")
	rootCmd.PersistentFlags().Int("engine-reconnect-delay-secs", 5, "Audio node reconnect delay in seconds")
	rootCmd.PersistentFlags().String("captcha-solver-url", "", "Captcha solver service base URL (empty disables auto-solve)")
	rootCmd.PersistentFlags().Int("captcha-timeout-secs", 30, "Captcha solver request timeout in seconds")
	rootCmd.PersistentFlags().String("database-path", "./volna.db", "SQLite database path for guild settings")
	rootCmd.PersistentFlags().String("server-host", defaultServerHost, "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("idle-timeout-mins", 20, "Minutes of inactivity before a session is destroyed")
	rootCmd.PersistentFlags().Int("error-threshold", core.DefaultErrorThreshold, "Consecutive playback errors that destroy a session")
	rootCmd.PersistentFlags().Int("error-decay-window-secs", 30, "Seconds without errors before the error count resets")
	rootCmd.PersistentFlags().Int("queue-page-size", core.DefaultQueuePageSize, "Tracks per page in queue views")
	rootCmd.PersistentFlags().Int("flood-limit-per-minute", core.DefaultFloodLimit, "Maximum commands per user per minute")
	rootCmd.PersistentFlags().Int("recent-track-capacity", 10000, "Recently-played cache capacity")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("VOLNA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Discord.Token = viper.GetString("discord-token")

	cfg.Engine.Host = viper.GetString("engine-host")
	cfg.Engine.Password = viper.GetString("engine-password")
	cfg.Engine.ReconnectDelay = time.Duration(viper.GetInt("engine-reconnect-delay-secs")) * time.Second

	cfg.Captcha.SolverURL = viper.GetString("captcha-solver-url")
	cfg.Captcha.Timeout = time.Duration(viper.GetInt("captcha-timeout-secs")) * time.Second

	cfg.Store.DatabasePath = viper.GetString("database-path")

	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")

	configureApp(cfg)

	return cfg
}

func configureApp(cfg *core.Config) {
	if mins := viper.GetInt("idle-timeout-mins"); mins > 0 {
		cfg.App.IdleTimeout = time.Duration(mins) * time.Minute
	}
	if threshold := viper.GetInt("error-threshold"); threshold > 0 {
		cfg.App.ErrorThreshold = threshold
	}
	if secs := viper.GetInt("error-decay-window-secs"); secs > 0 {
		cfg.App.ErrorDecayWindow = time.Duration(secs) * time.Second
	}
	if size := viper.GetInt("queue-page-size"); size > 0 {
		cfg.App.QueuePageSize = size
	}
	if limit := viper.GetInt("flood-limit-per-minute"); limit > 0 {
		cfg.App.FloodLimitPerMinute = limit
	}
	if capacity := viper.GetInt("recent-track-capacity"); capacity > 0 {
		cfg.App.RecentTrackCapacity = capacity
	}
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	if config.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if config.Engine.Host == "" {
		return fmt.Errorf("audio node host is required")
	}
	if config.Engine.Password == "" {
		return fmt.Errorf("audio node password is required")
	}
	return nil
}

func runVolna(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting volna",
		zap.String("engine_host", config.Engine.Host),
		zap.Bool("captcha_solver", config.Captcha.SolverURL != ""),
		zap.Duration("idle_timeout", config.App.IdleTimeout))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	settings, err := store.OpenSettings(config.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer settings.Close()

	recent := store.NewRecentTracks(config.App.RecentTrackCapacity, 0.001)

	limiter := flood.New(config.App.FloodLimitPerMinute)
	defer limiter.Stop()

	var solver core.CaptchaSolver
	if config.Captcha.SolverURL != "" {
		solver = captcha.NewSolver(config.Captcha.SolverURL, config.Captcha.Timeout, logger.Named("captcha"))
	}

	node := lavalink.NewNode(config.Engine, logger.Named("node"))
	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"), node.Healthy)

	gateway, err := discord.New(config.Discord.Token, logger.Named("discord"))
	if err != nil {
		return err
	}

	orchestrator := core.NewOrchestrator(config, gateway, node, settings,
		solver, recent, limiter, httpServer, logger.Named("orchestrator"))

	node.OnTrackEnd = orchestrator.HandleTrackEnd
	node.OnTrackError = orchestrator.HandleTrackError
	gateway.Bind(orchestrator, orchestrator.HandleVoiceEvent)

	if err := gateway.Open(); err != nil {
		return err
	}
	defer gateway.Close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return node.Run(gCtx)
	})

	logger.Info("volna started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("volna stopped with error", zap.Error(err))
		return err
	}

	logger.Info("volna stopped gracefully")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/modelctx/mcp"
	"github.com/modelctx/mcp/servers/filesystem"
)

type config struct {
	Server struct {
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		SSEPath     string `mapstructure:"sse_path"`
		MessagePath string `mapstructure:"message_path"`
	} `mapstructure:"server"`
	Roots    []string `mapstructure:"roots"`
	LogLevel string   `mapstructure:"log_level"`
}

func loadConfig(path string) (*config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.sse_path", "/sse")
	v.SetDefault("server.message_path", "/message")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Roots) == 0 {
		return nil, errors.New("at least one root directory must be configured")
	}
	return &cfg, nil
}

// Serves the filesystem handler over SSE. Each connected client gets its own
// protocol session; all sessions share one handler.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	handler, err := filesystem.NewServer(cfg.Roots)
	if err != nil {
		logger.Error("failed to create filesystem server", slog.String("err", err.Error()))
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	messageURL := fmt.Sprintf("http://%s%s", addr, cfg.Server.MessagePath)

	sseServer := mcp.NewSSEServer(messageURL, mcp.WithSSEServerLogger(logger))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.SSEPath, sseServer.HandleSSE())
	mux.Handle(cfg.Server.MessagePath, sseServer.HandleMessage())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		for transport := range sseServer.Sessions() {
			srv := mcp.NewServer(handler, transport, mcp.WithServerLogger(logger))
			go func() {
				if err := srv.Run(context.Background()); err != nil {
					logger.Error("session ended with error",
						slog.String("session", srv.SessionID()),
						slog.String("err", err.Error()))
				}
			}()
		}
	}()

	go func() {
		logger.Info("listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sseServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down SSE server", slog.String("err", err.Error()))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down http server", slog.String("err", err.Error()))
	}
}

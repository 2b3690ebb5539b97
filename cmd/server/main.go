package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	charmLog "github.com/charmbracelet/log"
	"github.com/suPer8Hu/alan-ai/internal/chat"
	"github.com/suPer8Hu/alan-ai/internal/config"
	"github.com/suPer8Hu/alan-ai/internal/db"
	"github.com/suPer8Hu/alan-ai/internal/httpapi"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/handlers"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
	"github.com/suPer8Hu/alan-ai/internal/store/rabbitmq"
	"github.com/suPer8Hu/alan-ai/internal/store/redisstore"
	"github.com/suPer8Hu/alan-ai/internal/users"
)

type cliConfig struct {
	Config    string `name:"config" help:"YAML config file." env:"CONFIG_FILE" type:"path"`
	HTTPAddr  string `name:"http-addr" help:"HTTP listen address; overrides the config file." env:"HTTP_ADDR"`
	LogLevel  string `name:"log-level" help:"Server log level." env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error,fatal"`
	LogFormat string `name:"log-format" help:"Log output format." env:"LOG_FORMAT" default:"text" enum:"text,json"`
}

func main() {
	cli, err := parseCLI(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse args: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logger: %v\n", err)
		os.Exit(2)
	}
	charmLog.SetDefault(logger)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Fatal("load config", "error", err)
	}
	if cli.HTTPAddr != "" {
		cfg.HTTPAddr = cli.HTTPAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "error", err)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("connect db", "error", err)
	}
	defer db.Close(gdb)

	if err := db.Migrate(gdb, &chat.Chat{}, &chat.Message{}, &oauth.Record{}, &users.Profile{}); err != nil {
		logger.Fatal("migrate", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := handlers.Deps{Logger: logger}

	// oauth state and code replay guard: redis when configured, else in-process
	if cfg.RedisAddr != "" {
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Fatal("redis ping", "addr", cfg.RedisAddr, "error", err)
		}
		defer rs.Close()
		deps.Grants = rs
	}

	repo := chat.NewRepo(gdb)
	deps.Hub = chat.NewHub(func(ctx context.Context, userID string) ([]chat.Chat, error) {
		return repo.ListChats(ctx, userID, "")
	}, logger.With("component", "hub"))

	// fan chat-list changes out to the other instances
	if cfg.RabbitURL != "" {
		b, err := rabbitmq.NewBroadcaster(cfg.RabbitURL, cfg.RabbitExchange, deps.Hub, logger.With("component", "broker"))
		if err != nil {
			logger.Fatal("rabbit", "error", err)
		}
		defer b.Close()
		deps.Notifier = b

		go func() {
			if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("chat event consumer stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(gdb, cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("alan-ai listening",
		"addr", cfg.HTTPAddr,
		"redis", cfg.RedisAddr != "",
		"rabbit", cfg.RabbitURL != "",
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen and serve", "error", err)
		return
	}
	logger.Info("server stopped")
}

func parseCLI(args []string) (cliConfig, error) {
	var cfg cliConfig

	parser, err := kong.New(
		&cfg,
		kong.Name("alan-ai"),
		kong.Description("Alan AI chat backend"),
		kong.UsageOnError(),
	)
	if err != nil {
		return cliConfig{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func newLogger(levelRaw, formatRaw string) (*charmLog.Logger, error) {
	level, err := charmLog.ParseLevel(strings.TrimSpace(levelRaw))
	if err != nil {
		return nil, err
	}

	formatter := charmLog.TextFormatter
	if strings.EqualFold(strings.TrimSpace(formatRaw), "json") {
		formatter = charmLog.JSONFormatter
	}

	return charmLog.NewWithOptions(os.Stderr, charmLog.Options{
		Prefix:          "alan-ai",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"grillo-telebot/internal/adminapi"
	"grillo-telebot/internal/config"
	"grillo-telebot/internal/grillo"
	"grillo-telebot/internal/mapping"
	"grillo-telebot/internal/session"
	"grillo-telebot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("bot stopped with error", zap.Error(err))
	}
	log.Info("bot stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	tz, err := cfg.Location()
	if err != nil {
		return err
	}

	admin := grillo.NewAdminClient(cfg.GrilloAPIURL, cfg.GrilloAPIToken, &http.Client{Timeout: cfg.HTTPTimeout})

	store, err := mapping.NewFileStore(cfg.MappingFile)
	if err != nil {
		return err
	}
	mapper, err := mapping.New(store, admin, log.Named("mapping"))
	if err != nil {
		return err
	}
	broker := session.NewBroker(admin, mapper, log.Named("session"))
	handler := telegram.NewHandler(broker, tz, log.Named("handler"))

	bot, err := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramDebug, handler, log.Named("telegram"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var adminSrv *http.Server
	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		adminSrv = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           adminapi.NewRouter(adminapi.Deps{Mapper: mapper, Token: cfg.AdminToken, Log: log.Named("adminapi")}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("admin api listening", zap.String("addr", cfg.AdminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
				stop()
			}
		}()
	}

	log.Info("starting grillo bot",
		zap.String("api", cfg.GrilloAPIURL),
		zap.String("mapping_file", store.Path()),
		zap.Int("mappings", mapper.Len()))

	runErr := bot.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin api forced to shutdown", zap.Error(err))
		}
	}

	select {
	case err := <-adminErr:
		return fmt.Errorf("admin api: %w", err)
	default:
	}
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

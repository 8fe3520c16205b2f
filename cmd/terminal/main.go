// Package main запускает платёжный терминал автомойки: сценарий оплаты,
// push-канал сервера и локальное API киоска.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/config"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/handler"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/middleware"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/push"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/repository"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/service"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Sugar().Fatalw("configuration error", "error", err.Error())
	}

	logger := newLogger(cfg.DevMode)
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rem := remote.NewClient(cfg.APIBaseURL, remote.Options{
		Timeout:    cfg.Remote.Timeout,
		RetryCount: cfg.Remote.RetryCount,
		RPS:        cfg.Remote.RPS,
		Token:      cfg.AuthToken,
	}, logger.Named("remote"))

	pushClient := push.NewClient(cfg.WSBaseURL, push.Options{
		InitialDelay:      cfg.Push.InitialDelay,
		ConnectTimeout:    cfg.Push.ConnectTimeout,
		ReconnectInterval: cfg.Push.ReconnectInterval,
		ReconnectAttempts: cfg.Push.ReconnectAttempts,
		Token:             cfg.AuthToken,
		DevMode:           cfg.DevMode,
	}, logger.Named("push"))
	defer pushClient.Close()

	st := store.New()
	svc := service.NewService(st, rem, pushClient, cfg.Payment, logger.Named("service"))

	authMiddleware := middleware.NewAuthMiddleware(cfg.OperatorToken)
	h := handler.NewHandler(svc, logger.Named("http"), authMiddleware).WithPush(pushClient, cfg.DevMode)

	var journal *repository.Writer
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer repo.Close()

		journal = repository.NewWriter(repo, logger.Named("journal"))
		h.WithJournal(repo)
	} else {
		sugar.Info("payment journal disabled: no database uri")
	}

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Подписки оформляются до подключения push-канала, чтобы не потерять первые сообщения
	svc.Start(ctx)

	g.Go(func() error {
		return pushClient.Run(ctx)
	})

	if journal != nil {
		g.Go(func() error {
			return journal.Run(ctx, st)
		})
	}

	// Идентификаторы терминала нужны только для журнала запуска
	g.Go(func() error {
		td, err := rem.GetTerminalData(ctx)
		if err != nil {
			sugar.Warnw("terminal data unavailable", "error", err.Error())
			return nil
		}
		sugar.Infow("terminal registered", "car_wash_id", td.CarWashID, "device_id", td.DeviceID)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting kiosk api", "addr", cfg.RunAddress, "dev_mode", cfg.DevMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down kiosk api...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("kiosk api stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("terminal terminated with error", "error", err)
	}
}

// server/cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lab-booking-api-server/config"
	"lab-booking-api-server/internal/api/handlers"
	"lab-booking-api-server/internal/api/routes"
	"lab-booking-api-server/internal/approval"
	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/events"
	"lab-booking-api-server/internal/inventory"
	"lab-booking-api-server/internal/requests"
	"lab-booking-api-server/internal/s3"
	"lab-booking-api-server/internal/socket"
	"lab-booking-api-server/internal/store"
	"lab-booking-api-server/internal/users"

	"github.com/joho/godotenv"
)

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

func main() {
	// .env là tùy chọn; biến môi trường thật vẫn được ưu tiên
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fatal(slog.Default(), "could not load config", err)
	}
	log := newLogger(cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Kết nối store (mongo / postgres / memory)
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := store.Open(startCtx, cfg)
	cancel()
	if err != nil {
		fatal(log, "failed to open store", err)
	}
	defer st.Close(context.Background())
	log.Info("store ready", "driver", cfg.Store.Driver)

	tokens, err := auth.NewTokens(cfg.JWT)
	if err != nil {
		fatal(log, "invalid jwt configuration", err)
	}

	// 3. Services
	ledger := inventory.NewLedger(st, log)
	if n, err := ledger.MigrateCategories(ctx); err != nil {
		fatal(log, "category migration failed", err)
	} else if n > 0 {
		log.Info("migrated legacy component categories", "count", n)
	}

	userService := users.NewService(st, tokens, log)
	if _, err := userService.EnsureAdmin(ctx, cfg.Admin); err != nil {
		fatal(log, "failed to seed admin", err)
	}

	// 4. Notifications: WebSocket luôn bật, RabbitMQ nếu được cấu hình
	hub := socket.NewHub(log)
	publishers := events.Multi{hub}
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := events.DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			fatal(log, "failed to connect to rabbitmq", err)
		}
		defer conn.Close()
		defer ch.Close()
		publishers = append(publishers, events.NewRabbitPublisher(ch, cfg.RabbitMQ.Exchange))
	}

	var uploader handlers.ImageUploader
	if cfg.S3.Bucket != "" {
		u, err := s3.NewUploader(cfg.S3)
		if err != nil {
			fatal(log, "failed to create s3 uploader", err)
		}
		uploader = u
	} else {
		log.Warn("s3 bucket not configured; component image upload disabled")
	}

	// 5. Truyền tất cả các thành phần cần thiết vào router
	router := routes.SetupRouter(cfg, routes.Services{
		Ledger:   ledger,
		Desk:     requests.NewDesk(st, ledger, log),
		Engine:   approval.NewEngine(st, publishers, log),
		Users:    userService,
		Tokens:   tokens,
		Hub:      hub,
		Uploader: uploader,
		Log:      log,
	})

	// 6. Start server
	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		log.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "failed to run server", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}

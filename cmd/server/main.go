package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/rl1809/lot-shop/internal/adapter/events"
	"github.com/rl1809/lot-shop/internal/adapter/handler"
	"github.com/rl1809/lot-shop/internal/adapter/storage"
	"github.com/rl1809/lot-shop/internal/adapter/telegram"
	"github.com/rl1809/lot-shop/internal/config"
	"github.com/rl1809/lot-shop/internal/core/service"
	"github.com/rl1809/lot-shop/internal/logger"
	"github.com/rl1809/lot-shop/internal/metrics"
	"github.com/rl1809/lot-shop/internal/port"
)

func main() {
	cfg := config.Load()
	log.Logger = logger.New(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	if err := storage.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate mysql")
	}
	log.Info().Msg("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	claims := storage.NewRedisAdapter(rdb)
	dialogs := storage.NewRedisDialogStore(rdb, cfg.DialogTTL)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shopMetrics := metrics.New(registry)

	publisher := newPublisher(cfg)

	var botAPI *tgbotapi.BotAPI
	opts := []service.Option{
		service.WithMetrics(shopMetrics),
		service.WithEventPublisher(publisher),
		service.WithLogger(log.With().Str("component", "reservation").Logger()),
	}
	if cfg.BotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect telegram")
		}
		log.Info().Str("bot", botAPI.Self.UserName).Msg("authorized on telegram")
		opts = append(opts, service.WithNotifier(telegram.NewNotifier(botAPI)))
	}

	// Initialize services
	shop := service.NewReservationService(mysqlAdapter, mysqlAdapter, claims, cfg.ReserveTTL, opts...)
	accounts := service.NewAccountService(mysqlAdapter, log.With().Str("component", "accounts").Logger())

	sweeper := service.NewSweeper(shop, cfg.SweepSchedule, log.With().Str("component", "sweeper").Logger())
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.TokenInterceptor(cfg.AdminToken)))
	handler.RegisterShopServer(grpcServer, handler.NewGRPCHandler(shop, accounts, log.With().Str("component", "grpc").Logger()))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(shop, log.With().Str("component", "http").Logger())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(httpHandler, registry, cfg.RequestTimeout, cfg.AdminToken),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Telegram bot
	var wg sync.WaitGroup
	if botAPI != nil {
		bot := telegram.New(botAPI, shop, accounts, dialogs, telegram.Options{
			ChannelID:  cfg.ChannelID,
			ChannelURL: cfg.ChannelURL,
			Admins:     cfg.Admins,
		}, log.With().Str("component", "bot").Logger())

		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()
	} else {
		log.Warn().Msg("BOT_TOKEN not set, telegram bot disabled")
	}

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	log.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	wg.Wait()
	sweeper.Stop(shutdownCtx)
	log.Info().Msg("bot and sweeper stopped")

	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}

type closablePublisher interface {
	port.EventPublisher
	Close() error
}

func newPublisher(cfg *config.Config) closablePublisher {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info().Msg("KAFKA_BROKERS not set, sale events disabled")
		return events.NopPublisher{}
	}
	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing sale events")
	return events.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/client"
	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/database"
	"github.com/iliyamo/cinema-booking-service/internal/handler"
	"github.com/iliyamo/cinema-booking-service/internal/logger"
	"github.com/iliyamo/cinema-booking-service/internal/middleware"
	"github.com/iliyamo/cinema-booking-service/internal/queue"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
	"github.com/iliyamo/cinema-booking-service/internal/router"
	"github.com/iliyamo/cinema-booking-service/internal/service"
	"github.com/iliyamo/cinema-booking-service/internal/worker"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if cfg.DB.Migrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatal("ensure schema", zap.Error(err))
		}
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unreachable; showtime cache and rate limiting disabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		defer rdb.Close()
	}

	hc := client.NewHTTPClient(cfg.Services.Timeout)
	theatre := client.NewTheatreClient(cfg.Services.TheatreURL, hc, rdb, cfg.ShowtimeCache, log)
	users := client.NewUserClient(cfg.Services.UserURL, hc)
	movies := client.NewMovieClient(cfg.Services.MovieURL, hc)

	pub := queue.NewPublisher(queue.DialURL(cfg.Queue.URL), cfg.Queue.RetryDelay, log)
	defer pub.Close()

	txr := database.NewTxRunner(db)
	bookingRepo := repository.NewBookingRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	seatRepo := repository.NewSeatHoldRepo(db)

	capacity := service.NewCapacity(theatre, cfg.Services.Timeout, log)
	ledger := service.NewSeatLedger(seatRepo, txr, capacity, cfg.Booking, log)
	bookings := service.NewBookingService(txr, bookingRepo, paymentRepo, ledger, capacity, theatre, pub, cfg.Booking, log)
	payments := service.NewPaymentService(txr, paymentRepo, bookingRepo, bookings, cfg.Booking, log)

	// consumerDone is closed once the consumer has returned and its sinks
	// are closed; it stays nil when the consumer is disabled.
	var consumerDone chan struct{}
	if cfg.Queue.ConsumerEnabled {
		sink, closeSinks := buildSinks(cfg.Events, pub, log)
		consumer := queue.NewConsumer(cfg.Queue.URL, cfg.Queue.MaxAttempts, cfg.Queue.RetryDelay,
			pub, queue.NewEnricher(users, theatre, movies), sink, log)
		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("confirmation consumer", zap.Error(err))
			}
			closeSinks()
		}()
	}

	if cfg.Sweeper.Enabled {
		sweeper, err := worker.NewSweeper(cfg.Sweeper.Schedule, bookings, log)
		if err != nil {
			log.Fatal("expiry sweeper", zap.Error(err))
		}
		sweeper.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sweeper.Stop(sctx)
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(log))

	router.RegisterRoutes(e, router.Handlers{
		Bookings:  handler.NewBookingHandler(bookings),
		Payments:  handler.NewPaymentHandler(payments),
		Showtimes: handler.NewShowtimeHandler(ledger),
	}, middleware.NewTokenBucket(cfg.RateLimit, rdb, log))

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			log.Warn("confirmation consumer did not stop in time")
		}
	}
}

// buildSinks assembles the configured event sinks.  Unknown names are
// logged and skipped; with nothing configured events go to the file sink.
func buildSinks(cfg config.EventsConfig, pub *queue.Publisher, log *zap.Logger) (queue.Sink, func()) {
	var (
		sinks   queue.MultiSink
		closers []func() error
	)
	for _, name := range cfg.Sinks {
		switch strings.ToLower(name) {
		case "rabbitmq", "amqp":
			sinks = append(sinks, queue.NewRabbitSink(pub))
		case "kafka":
			ks := queue.NewKafkaSink(queue.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
			sinks = append(sinks, ks)
			closers = append(closers, ks.Close)
		case "file", "log":
			sinks = append(sinks, queue.NewFileSink(cfg.LogPath))
		default:
			log.Warn("unknown event sink", zap.String("sink", name))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, queue.NewFileSink(cfg.LogPath))
	}
	log.Info("event sinks", zap.String("sinks", sinks.Name()))
	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close sink", zap.Error(err))
			}
		}
	}
}

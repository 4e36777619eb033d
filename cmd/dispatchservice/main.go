package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/booking/repository"
	"github.com/example/ridehail/internal/dispatch/guard"
	"github.com/example/ridehail/internal/dispatch/handler"
	"github.com/example/ridehail/internal/dispatch/locator"
	"github.com/example/ridehail/internal/dispatch/search"
	"github.com/example/ridehail/internal/dispatch/service"
	"github.com/example/ridehail/internal/location"
	"github.com/example/ridehail/internal/notify"
	"github.com/example/ridehail/internal/relay"
	"github.com/example/ridehail/pkg/observability"
)

type appConfig struct {
	HTTPAddr           string
	GRPCAddr           string
	PostgresDSN        string
	RedisAddr          string
	NATSURL            string
	SearchPoll         time.Duration
	SearchDeadline     time.Duration
	SearchRadiusMiles  float64
	LeaseTTL           time.Duration
	CancellationWindow time.Duration
	RelayPoll          time.Duration
	RelayBatch         int
	RelayRetry         int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("dispatch-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "dispatch-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	bookings := repository.NewMemoryBookingRepository()
	drivers := repository.NewMemoryDriverRepository()

	loc, geoTracker := buildLocator(redisClient, drivers)

	var lease guard.LeaseStore
	var geoIndex guard.GeoIndex
	if redisClient != nil {
		lease = guard.NewRedisLeaseStore(redisClient, "")
		geoIndex = geoTracker
	}
	assignGuard := guard.New(bookings, drivers, lease, geoIndex, cfg.LeaseTTL, domain.SystemClock{})

	hub := notify.NewHub(logger.Named("hub"))
	port := notify.Fanout{hub, notify.NewNATSPort(natsConn, "dispatch.events")}

	scheduler := search.NewScheduler(loc, bookings, port, logger.Named("search"), search.Config{
		PollInterval: cfg.SearchPoll,
		Deadline:     cfg.SearchDeadline,
		RadiusMiles:  cfg.SearchRadiusMiles,
	})

	journal := buildJournal(ctx, db, bookings, logger)

	svc := service.New(bookings, drivers, assignGuard, scheduler, port, journal, domain.SystemClock{}, logger.Named("dispatch"), service.Config{
		DriverCancellationWindow: cfg.CancellationWindow,
	})
	dispatchHTTP := handler.NewHTTP(svc)

	r := chi.NewRouter()
	r.Mount("/", dispatchHTTP.Router())
	r.Mount("/ws", hub.Router())
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if db != nil && natsConn != nil {
		worker := relay.NewWorker(db, natsConn, logger.Named("relay"), relay.WorkerConfig{
			PollInterval: cfg.RelayPoll,
			BatchSize:    cfg.RelayBatch,
			RetryMax:     cfg.RelayRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("relay worker disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	grpcServer := startLocationIngest(cfg.GRPCAddr, drivers, geoTracker, logger)
	if grpcServer != nil {
		defer grpcServer.GracefulStop()
	}

	go func() {
		logger.Info("dispatch service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildLocator(redisClient *redis.Client, drivers domain.DriverRepository) (locator.Locator, *locator.RedisGeoLocator) {
	if redisClient == nil {
		return locator.NewRepositoryLocator(drivers), nil
	}
	geo := locator.NewRedisGeoLocator(redisClient, "", drivers)
	return geo, geo
}

func buildJournal(ctx context.Context, db *sql.DB, fallback domain.EventJournal, logger *zap.Logger) domain.EventJournal {
	if db == nil {
		return fallback
	}
	journal := relay.NewJournal(db, "dispatch.events")
	if err := journal.EnsureSchema(ctx); err != nil {
		logger.Warn("journal schema setup failed", zap.Error(err))
		return fallback
	}
	return journal
}

func startLocationIngest(addr string, drivers domain.DriverRepository, tracker *locator.RedisGeoLocator, logger *zap.Logger) *grpc.Server {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Warn("location ingest listen failed", zap.Error(err))
		return nil
	}
	var trk location.Tracker
	if tracker != nil {
		trk = tracker
	}
	observer := location.NewStreamObserver(drivers, trk)
	server := grpc.NewServer()
	location.RegisterLocationServer(server, location.NewServer(observer))
	go func() {
		logger.Info("location ingest listening", zap.String("addr", addr))
		if err := server.Serve(lis); err != nil {
			logger.Warn("location ingest stopped", zap.Error(err))
		}
	}()
	return server
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:           getenv("GRPC_ADDR", ":9090"),
		PostgresDSN:        firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		SearchPoll:         time.Duration(parseIntEnv("SEARCH_POLL_SEC", 10)) * time.Second,
		SearchDeadline:     time.Duration(parseIntEnv("SEARCH_DEADLINE_SEC", 60)) * time.Second,
		SearchRadiusMiles:  parseFloatEnv("SEARCH_RADIUS_MILES", 3),
		LeaseTTL:           time.Duration(parseIntEnv("LEASE_TTL_SEC", 10)) * time.Second,
		CancellationWindow: time.Duration(parseIntEnv("DRIVER_CANCEL_WINDOW_SEC", 120)) * time.Second,
		RelayPoll:          time.Duration(parseIntEnv("RELAY_POLL_MS", 200)) * time.Millisecond,
		RelayBatch:         parseIntEnv("RELAY_BATCH", 100),
		RelayRetry:         parseIntEnv("RELAY_RETRY_MAX", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/multierr"

	"github.com/2beens/fitsense/internal/config"
	"github.com/2beens/fitsense/internal/db"
	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/kvstore"
	"github.com/2beens/fitsense/internal/middleware"
	"github.com/2beens/fitsense/internal/session"
	"github.com/2beens/fitsense/internal/telemetry/metrics"
	"github.com/2beens/fitsense/internal/telemetry/tracing"
)

const shutdownMaxWait = 15 * time.Second

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	addr              net.Addr
	metricsAddr       net.Addr

	config      *config.Config
	store       kvstore.Store
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	rateLimiter middleware.RequestRateLimiter
	service     *session.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	RedisPassword           string
	PostgresUser            string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (_ *Server, err error) {
	cfg := params.Config
	s := &Server{
		config: cfg,
	}
	// release whatever got opened if a later step fails
	defer func() {
		if err != nil {
			s.closeStorage()
		}
	}()

	var extraCollectors []prometheus.Collector

	switch cfg.StorageBackend {
	case config.StorageRedis:
		s.redisClient, err = newRedisClient(ctx, cfg, params.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		s.store = kvstore.NewRedisStore(s.redisClient, cfg.RedisKeyPrefix)
	case config.StoragePostgres:
		s.dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         params.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := s.dbPool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping db: %w", err)
		}
		if err := kvstore.RunMigrations(ctx, s.dbPool); err != nil {
			return nil, err
		}
		s.store = kvstore.NewPostgresStore(s.dbPool)
		extraCollectors = append(extraCollectors, db.PoolCollector(s.dbPool, cfg.PostgresDBName))
	default:
		s.store = kvstore.NewMemoryStore(cfg.MemoryCacheSize)
	}
	log.Infof("using [%s] storage", cfg.StorageBackend)

	// redis is optional with the other backends, it only backs the rate limiter then
	if s.redisClient == nil && cfg.RedisHost != "" {
		rdb, err := newRedisClient(ctx, cfg, params.RedisPassword)
		if err != nil {
			log.Errorf("--> redis unavailable, analyze rate limiting disabled: %s", err)
		} else {
			s.redisClient = rdb
		}
	}
	if s.redisClient != nil && cfg.AnalyzeRateLimitPerMin > 0 {
		s.rateLimiter = redis_rate.NewLimiter(s.redisClient)
	}

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("fitsense", "service", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	// use honeycomb distro to setup OpenTelemetry SDK
	s.otelShutdown, err = tracing.HoneycombSetup(params.HoneycombTracingEnabled, "fitsense-service", s.redisClient)
	if err != nil {
		return nil, err
	}

	s.service = session.NewService(session.NewServiceParams{
		Repo:          session.NewRepo(s.store),
		Engine:        fitness.NewEngine(cfg.RandSeed),
		Metrics:       s.metricsManager,
		AnalysisDelay: cfg.AnalysisDelay.Duration,
	})

	return s, nil
}

func newRedisClient(ctx context.Context, cfg *config.Config, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: password,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Debugf("redis ping: %s", rdbStatus.Val())

	return rdb, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("fitsense-router"))

	sessionHandler := session.NewHandler(s.service)
	sessionHandler.SetupRoutes(r, s.rateLimiter, s.metricsManager, s.config.AnalyzeRateLimitPerMin)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

// Serve binds the main and the metrics listeners and serves them in the background.
func (s *Server) Serve(host string, port int) error {
	router := s.routerSetup()

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	metricsLn, err := net.Listen("tcp", net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort))
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.addr = ln.Addr()
	s.metricsAddr = metricsLn.Addr()

	s.httpServer = &http.Server{
		Handler:      router,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	s.metricsHttpServer = &http.Server{
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", s.addr)
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", s.metricsAddr)
		err := s.metricsHttpServer.Serve(metricsLn)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
	return nil
}

// Addr is the main listener address, known once Serve returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) MetricsAddr() net.Addr {
	return s.metricsAddr
}

// GracefulShutdown stops the http servers first, then releases storage and telemetry.
// Every step runs, the returned error combines the failed ones.
func (s *Server) GracefulShutdown() error {
	log.Debug("graceful shutdown initiated ...")
	s.metricsManager.GaugeLifeSignal.Set(0)

	ctx, timeoutCancel := context.WithTimeout(context.Background(), shutdownMaxWait)
	defer timeoutCancel()

	var err error
	if s.httpServer != nil {
		if shErr := s.httpServer.Shutdown(ctx); shErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown http server: %w", shErr))
		}
		log.Warnln("server shut down")
	}
	if s.metricsHttpServer != nil {
		if shErr := s.metricsHttpServer.Shutdown(ctx); shErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown metrics http server: %w", shErr))
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	err = multierr.Append(err, s.closeStorage())

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	return err
}

func (s *Server) closeStorage() error {
	var err error
	if s.store != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close store: %w", closeErr))
		}
	}
	if s.redisClient != nil {
		if closeErr := s.redisClient.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis client: %w", closeErr))
		}
	}
	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}
	return err
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"treasuryd/internal/cache"
	"treasuryd/internal/config"
	"treasuryd/internal/database"
	"treasuryd/internal/logger"
	"treasuryd/internal/market"
	"treasuryd/internal/market/breaker"
	"treasuryd/internal/market/quality"
	"treasuryd/internal/market/source"
	"treasuryd/internal/market/storage"
	"treasuryd/internal/monitor"
)

// Service wires the market-data pipeline together: scheduled ingestion,
// snapshot storage, read cache and the metrics listener.
type Service struct {
	cfg      *config.Config
	db       *database.DB
	cache    cache.Cache
	ingestor *market.Ingestor
	store    *storage.Storage
	cron     *cron.Cron
	server   *http.Server
	cancel   context.CancelFunc
}

func main() {
	var (
		configPath     = flag.String("config", "configs/config.yaml", "Configuration file path")
		migrationsPath = flag.String("migrations", "migrations", "Database migrations directory")
		runOnce        = flag.Bool("once", false, "Run one ingestion cycle and exit")
	)
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Logging)

	service, err := NewService(cfg, *migrationsPath)
	if err != nil {
		logger.Fatal("Failed to create service", "error", err.Error())
	}

	if *runOnce {
		result := service.ingestor.IngestMarketData(context.Background())
		service.Shutdown()
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	if err := service.Start(); err != nil {
		logger.Fatal("Failed to start service", "error", err.Error())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Received signal, shutting down", "signal", sig.String())
	service.Shutdown()
}

// NewService builds the pipeline from configuration and runs pending
// database migrations.
func NewService(cfg *config.Config, migrationsPath string) (*Service, error) {
	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrator, err := database.NewMigrator(db, migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return nil, err
	}

	c, err := cache.NewCache(&cache.Config{
		Enabled:  cfg.Redis.Enabled,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	metrics := monitor.NewMetricsCollector()
	breakers := breaker.NewRegistry(cfg.Market.BreakerThreshold, cfg.Market.BreakerCooldown)
	breakers.SetTripCallback(func(source string) {
		metrics.SetBreakerState(source, true)
	})

	store := storage.NewStorage(db.DB)
	ingestor := market.NewIngestor(
		source.DefaultFetchers(source.Config{
			FREDAPIKey:         cfg.Market.FREDAPIKey,
			ExchangeRateAPIKey: cfg.Market.ExchangeRateAPIKey,
			FetchTimeout:       cfg.Market.FetchTimeout,
		}, breakers),
		breakers,
		quality.NewEngine(quality.Config{
			PassScore:       cfg.Market.PassScore,
			StalenessWindow: cfg.Market.StalenessWindow,
		}),
		quality.NewDetector(quality.DetectorConfig{
			SigmaThreshold:    cfg.Market.SigmaThreshold,
			SigmaEscalation:   cfg.Market.SigmaEscalation,
			RelativeThreshold: cfg.Market.RelativeThreshold,
			MinHistory:        cfg.Market.MinHistory,
		}),
		store,
		c,
		metrics,
		market.Config{
			FetchTimeout:    cfg.Market.FetchTimeout,
			CycleTimeout:    cfg.Market.CycleTimeout,
			HistoryWindow:   cfg.Market.HistoryWindow,
			SummaryCacheTTL: cfg.Market.SummaryCacheTTL,
		},
	)

	return &Service{
		cfg:      cfg,
		db:       db,
		cache:    c,
		ingestor: ingestor,
		store:    store,
		cron:     cron.New(cron.WithSeconds()),
	}, nil
}

// Start schedules the ingestion and retention jobs and brings up the
// metrics listener.
func (s *Service) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	_, err := s.cron.AddFunc(s.cfg.Market.IngestSchedule, func() {
		s.ingestor.IngestMarketData(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid ingest schedule %q: %w", s.cfg.Market.IngestSchedule, err)
	}

	// Retention cleanup once a day, off the ingestion cadence.
	_, err = s.cron.AddFunc("0 30 2 * * *", func() {
		if err := s.store.DeleteOlderThan(ctx, s.cfg.Market.RetentionDays); err != nil {
			logger.Error("Retention cleanup failed", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.startMetricsServer()

	// Prime the pipeline so read views have data before the first tick.
	go s.ingestor.IngestMarketData(ctx)

	logger.Info("Service started",
		"schedule", s.cfg.Market.IngestSchedule,
		"metrics_port", s.cfg.Server.Port)
	return nil
}

func (s *Service) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/report", s.handleReport)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", "error", err.Error())
		}
	}()
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"database": "ok", "cache": "ok"}
	code := http.StatusOK
	if err := s.db.HealthCheck(ctx); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := s.cache.HealthCheck(ctx); err != nil {
		status["cache"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"last_result": s.ingestor.LastResult(),
		"breakers":    s.ingestor.BreakerStates(),
	})
}

// handleReport returns the persisted quality report for one ingestion cycle
func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle")
	if cycleID == "" {
		http.Error(w, "missing cycle parameter", http.StatusBadRequest)
		return
	}

	report, err := s.store.GetQualityReport(r.Context(), cycleID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// Shutdown stops the scheduler and listener and releases the backing
// connections.
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown metrics server", "error", err.Error())
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	logger.Info("Service stopped")
}

package initialize

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chunk-relay/backend/app/controllers"
	"chunk-relay/backend/app/db"
	"chunk-relay/backend/app/metrics"
	"chunk-relay/backend/app/models"
	"chunk-relay/backend/app/repo"
	"chunk-relay/backend/app/services"
	"chunk-relay/backend/app/session"
	"chunk-relay/backend/config"
	"chunk-relay/backend/global"
	"chunk-relay/backend/router"
	"chunk-relay/backend/server"
	"chunk-relay/queue"
	"chunk-relay/transfer"

	"gorm.io/gorm"
)

type App struct {
	Cfg        *config.Config
	DB         *gorm.DB
	Transport  queue.Transport
	Store      *session.Store
	Metrics    *metrics.Metrics
	Router     http.Handler
	Processing *services.ProcessingService
	Reaper     *services.Reaper
}

func Build(ctx context.Context, configPath string) (*App, error) {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	global.Config = cfg

	// Connect DB
	gdb, err := db.Connect(db.Config{
		Driver:   cfg.DB.Driver,
		Path:     cfg.DB.Path,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Pass,
		DBName:   cfg.DB.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb

	// Migrate
	if err := gdb.AutoMigrate(&models.TransferResult{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Transport
	transport, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	if rq, ok := transport.(*queue.Redis); ok {
		global.Rdb = rq.Client()
	}

	// Services
	store := session.NewStore(cfg.Processing.Shards)
	m := metrics.New(func() float64 { return float64(store.Len()) })
	results := repo.NewTransferResultRepository(gdb)
	assembler, err := services.NewAssemblyService(cfg.Processing.OutputDir, cfg.Processing.TempDir)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	reporter := services.NewResultReporter(transport, results, m, cfg.Queue.MessageTTL)
	tokens := transfer.NewTokenSigner(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Queue.MessageTTL)
	processing := services.NewProcessingService(transport, store, assembler, reporter, tokens, m, services.ProcessingOptions{
		Topic:            queue.TopicChunks,
		WaitTimeout:      cfg.Processing.WaitTimeout,
		ErrorBackoff:     cfg.Processing.ErrorBackoff,
		ProgressInterval: cfg.Processing.ProgressInterval,
		Workers:          cfg.Processing.Workers,
	})
	reaper := services.NewReaper(store, reporter, cfg.Reaper.Interval, cfg.Reaper.Timeout, cfg.Reaper.Retention)

	// Router
	h := router.NewRouter(controllers.NewHTTPController(), controllers.NewTransferController(store, results), m.Handler())

	global.Logger.Info().
		Str("transport", cfg.Queue.Kind).
		Str("db", cfg.DB.Driver).
		Str("output", assembler.OutputDir()).
		Bool("source_auth", tokens != nil).
		Msg("backend initialized")

	return &App{
		Cfg:        cfg,
		DB:         gdb,
		Transport:  transport,
		Store:      store,
		Metrics:    m,
		Router:     h,
		Processing: processing,
		Reaper:     reaper,
	}, nil
}

// Run serves HTTP and runs the consumer and the reaper until ctx is done.
func (a *App) Run(ctx context.Context) error {
	srv, err := server.StartHTTPServer(a.Cfg.HTTP.Host, a.Cfg.HTTP.Port, a.Router)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Processing.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Reaper.Run(ctx)
	}()

	<-ctx.Done()
	global.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		global.Logger.Warn().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return a.Transport.Close()
}

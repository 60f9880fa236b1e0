// Command server starts the trading control plane: it loads configuration,
// opens the database, wires every collaborator package together, schedules
// the background jobs, and serves the REST surface until an interrupt signal
// asks it to shut down.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/backup"
	"github.com/jabez4jc/tradecontrol/internal/broadcaster"
	"github.com/jabez4jc/tradecontrol/internal/brokerclient"
	"github.com/jabez4jc/tradecontrol/internal/config"
	"github.com/jabez4jc/tradecontrol/internal/contracts"
	"github.com/jabez4jc/tradecontrol/internal/database"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
	"github.com/jabez4jc/tradecontrol/internal/orchestrator"
	"github.com/jabez4jc/tradecontrol/internal/polling"
	"github.com/jabez4jc/tradecontrol/internal/reconciler"
	"github.com/jabez4jc/tradecontrol/internal/safeswitch"
	"github.com/jabez4jc/tradecontrol/internal/scheduler"
	"github.com/jabez4jc/tradecontrol/internal/selfhealth"
	"github.com/jabez4jc/tradecontrol/internal/server"
	"github.com/jabez4jc/tradecontrol/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting trade control plane")

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath,
		Profile: database.ProfileStandard,
		Name:    "tradecontrol",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	instances := repositories.NewInstanceRepository(db.Conn(), log)
	watchlists := repositories.NewWatchlistRepository(db.Conn(), log)
	orders := repositories.NewOrderRepository(db.Conn(), log)
	positions := repositories.NewPositionRepository(db.Conn(), log)

	newClient := func(inst domain.Instance) domain.BrokerClient {
		return brokerclient.New(inst.HostURL, inst.APIKey, brokerclient.Options{
			Timeout:    cfg.UpstreamRequestTimeout,
			MaxRetries: cfg.UpstreamMaxRetries,
			RetryDelay: cfg.UpstreamRetryDelay,
			Log:        log,
		})
	}

	cache := marketcache.New()
	if err := cache.LoadSnapshot(cfg.SnapshotCachePath, log); err != nil {
		log.Warn().Err(err).Msg("no market-data snapshot to restore")
	}

	resolver := contracts.New(cache, contracts.DefaultStrikeSteps)
	marketHours := scheduler.NewMarketHoursService(log)

	alertSink := alerts.New(db, log, alerts.NewLogNotifier(log))
	safeSwitch := safeswitch.New(instances, newClient, alertSink, log)
	bc := broadcaster.New(watchlists, instances, orders, positions, cache, resolver, newClient, alertSink, marketHours)
	recon := reconciler.New(instances, orders, positions, watchlists, cache, newClient, bc, alertSink, log)

	pollingCtl := polling.New()

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	instanceLocks := orchestrator.NewInstanceLocks()
	healthJob := orchestrator.NewHealthJob(instances, newClient, alertSink, instanceLocks, log)
	pnlJob := orchestrator.NewPnLJob(instances, newClient, safeSwitch, pollingCtl, instanceLocks, log)
	reconcileJob := orchestrator.NewReconcileJob(recon, pollingCtl)

	if err := sched.AddJob(cfg.HealthCheckCron, healthJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register health job")
	}
	if err := sched.AddJob(cfg.InstanceUpdateCron, pnlJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register pnl job")
	}
	if err := sched.AddJob("@every "+cfg.OrderStatusPollingInterval.String(), reconcileJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register reconcile job")
	}

	if cfg.BackupEnabled() {
		backupCtx, cancelBackupInit := context.WithTimeout(context.Background(), 30*time.Second)
		backupSvc, err := backup.New(backupCtx, backup.Config{
			Bucket:            cfg.BackupS3Bucket,
			Region:            cfg.BackupS3Region,
			Endpoint:          cfg.BackupS3Endpoint,
			AccessKeyID:       cfg.BackupS3AccessKeyID,
			SecretAccessKey:   cfg.BackupS3SecretKey,
			RetentionDays:     cfg.BackupRetentionDays,
			DatabasePath:      cfg.DatabasePath,
			SnapshotCachePath: cfg.SnapshotCachePath,
		}, log)
		cancelBackupInit()
		if err != nil {
			log.Error().Err(err).Msg("backup disabled: failed to construct S3/R2 client")
		} else if err := sched.AddJob(cfg.BackupIntervalCron, backup.NewJob(backupSvc)); err != nil {
			log.Fatal().Err(err).Msg("failed to register backup job")
		}
	}

	startedAt := time.Now()
	health := selfhealth.New(db, startedAt)

	srv := server.New(server.Config{
		Port:        cfg.Port,
		CORSOrigin:  cfg.CORSOrigin,
		DevMode:     cfg.DevMode,
		Log:         log,
		Instances:   instances,
		Watchlists:  watchlists,
		Orders:      orders,
		Positions:   positions,
		Cache:       cache,
		Resolver:    resolver,
		NewClient:   newClient,
		Broadcaster: bc,
		SafeSwitch:  safeSwitch,
		AlertSink:   alertSink,
		Polling:     pollingCtl,
		Health:      health,
		MarketHours: marketHours,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	if err := cache.SaveSnapshot(cfg.SnapshotCachePath, log); err != nil {
		log.Warn().Err(err).Msg("failed to persist market-data snapshot on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

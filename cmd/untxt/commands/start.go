package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/api"
	"github.com/benfrankstein/untxt-sub002/pkg/auth"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/capture"
	"github.com/benfrankstein/untxt-sub002/pkg/config"
	"github.com/benfrankstein/untxt-sub002/pkg/download"
	"github.com/benfrankstein/untxt-sub002/pkg/gateway"
	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/lifecycle"
	"github.com/benfrankstein/untxt-sub002/pkg/metrics"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/permission"
	"github.com/benfrankstein/untxt-sub002/pkg/queue"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
	"github.com/benfrankstein/untxt-sub002/pkg/version"
	"github.com/benfrankstein/untxt-sub002/pkg/worker"
)

var startWithWorker bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server and gateway",
	Long: `Start the HTTP API, the websocket gateway and the background reapers.

The OCR worker pool normally runs as a separate process ("untxt worker");
--with-worker runs it in-process for single-node and development setups.

Examples:
  # Start with a config file
  untxt start --config /etc/untxt/config.yaml

  # All-in-one development node against sqlite
  METADATA_URL=sqlite:///tmp/untxt.db untxt start --with-worker

  # Environment overrides
  UNTXT_LOGGING_LEVEL=DEBUG untxt start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startWithWorker, "with-worker", false, "run the OCR worker pool in-process")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting untxt", "version", Version, "database", cfg.Database.Type)

	st, err := store.New(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("%w: metadata store: %v", ErrDependency, err)
	}
	defer func() { _ = st.Close() }()

	objects, err := cfg.BuildObjectStore(ctx)
	if err != nil {
		return fmt.Errorf("%w: object store: %v", ErrDependency, err)
	}

	redisClient, err := queue.NewClient(cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("%w: queue: %v", ErrDependency, err)
	}
	defer func() { _ = redisClient.Close() }()
	q := queue.New(redisClient, cfg.QueueConfig())

	b, err := cfg.BuildBus()
	if err != nil {
		return fmt.Errorf("%w: bus: %v", ErrDependency, err)
	}

	authSvc, err := auth.New(cfg.AuthServiceConfig())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New()
		reg.RegisterQueueDepth(q.Depth)
	}

	// Metrics interfaces are narrow per consumer; a nil registry means each
	// consumer gets a plain nil, not a typed one.
	var permMetrics permission.Metrics
	var verMetrics version.Metrics
	var gwMetrics gateway.Metrics
	if reg != nil {
		permMetrics, verMetrics, gwMetrics = reg, reg, reg
	}

	perms := permission.New(st, permMetrics)
	ingestSvc := ingest.New(st, objects, q, nil, cfg.IngestServiceConfig())
	downloadSvc := download.New(st, objects, perms)
	engine := version.New(st, objects, perms, nil, verMetrics, cfg.VersionEngineConfig())
	lifecycleSvc := lifecycle.New(st, objects, perms, cfg.LifecycleServiceConfig())

	if err := lifecycleSvc.Declare(ctx); err != nil {
		// Retention degrades but uploads still work.
		logger.Warn("lifecycle policy declaration failed", "error", err)
	}

	hub := gateway.NewHub(func(r *http.Request) (string, error) {
		claims, err := authSvc.FromRequest(r)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}, st, gwMetrics, cfg.GatewayHubConfig())

	sub := b.Subscribe(ctx, bus.TopicTaskUpdates, bus.TopicDBChanges, bus.TopicNotifications)
	go hub.Run(ctx, sub)

	startChangeFeed(ctx, cfg, st, b)

	go ingestSvc.RunRequeueReaper(ctx)
	go engine.RunIdleReaper(ctx)
	go lifecycleSvc.RunScanReaper(ctx)

	mirror := worker.NewMirror(redisClient, 24*time.Hour)
	if reg != nil {
		reg.RegisterTaskCounters(mirror.Stats)
	}

	if startWithWorker {
		pool := worker.NewPool(st, objects, q, b, worker.Simulated{}, mirror, cfg.WorkerPoolConfig())
		go func() {
			if err := pool.Run(ctx); err != nil {
				logger.Error("worker pool stopped", "error", err)
			}
		}()
		go pool.RunTimeoutReaper(ctx, time.Minute)
	}

	server := api.NewServer(api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  int64(cfg.Ingest.MaxUploadBytes),
	}, api.Deps{
		Auth:        authSvc,
		Store:       st,
		Ingest:      ingestSvc,
		Download:    downloadSvc,
		Versions:    engine,
		Permissions: perms,
		Lifecycle:   lifecycleSvc,
		Gateway:     hub,
		Metrics:     reg,
		QueueCheck:  q.Healthcheck,
	})

	err = server.Start(ctx)
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

// startChangeFeed bridges row changes onto the bus: postgres via the
// LISTEN/NOTIFY capture listener, sqlite via the store's in-process
// notifier.
func startChangeFeed(ctx context.Context, cfg *config.Config, st *store.GORMStore, b *bus.Bus) {
	if cfg.Database.Type == string(store.DatabaseTypePostgres) {
		listener, err := capture.New(cfg.CaptureConfig(), b)
		if err != nil {
			logger.Error("change capture setup failed", "error", err)
			return
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("change capture stopped", "error", err)
			}
		}()
		return
	}

	st.SetChangeNotifier(func(ev store.ChangeEvent) {
		change := &bus.DBChange{
			EventID:   models.NewID(),
			Table:     ev.Table,
			Op:        string(ev.Op),
			RecordID:  ev.RecordID,
			OwnerID:   ev.OwnerID,
			Summary:   ev.Summary,
			Timestamp: time.Now().UTC(),
		}
		if err := b.PublishDBChange(ctx, change); err != nil {
			logger.Warn("change publish failed", "table", ev.Table, "error", err)
		}
	})
}

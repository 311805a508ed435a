package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/queue"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
	"github.com/benfrankstein/untxt-sub002/pkg/worker"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the OCR worker pool",
	Long: `Start the OCR worker pool.

Workers pop task ids from the redis queue, fetch the uploaded bytes from the
object store, run the configured extraction modes, store the result and
publish progress on the event bus. The pool scales horizontally: run as many
worker processes as the queue depth demands.

Examples:
  # Start with the configured pool size
  untxt worker

  # Override the pool size
  untxt worker --workers 8`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "pool size (overrides the config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	poolConfig := cfg.WorkerPoolConfig()
	if workerCount > 0 {
		poolConfig.Workers = workerCount
	}

	mirror := worker.NewMirror(redisClient, 24*time.Hour)
	pool := worker.NewPool(st, objects, q, b, worker.Simulated{}, mirror, poolConfig)

	go pool.RunTimeoutReaper(ctx, time.Minute)

	logger.Info("worker pool starting", "workers", poolConfig.Workers)
	err = pool.Run(ctx)
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

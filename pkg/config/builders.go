package config

import (
	"context"
	"fmt"

	"github.com/benfrankstein/untxt-sub002/pkg/auth"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/capture"
	"github.com/benfrankstein/untxt-sub002/pkg/gateway"
	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/lifecycle"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/queue"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
	"github.com/benfrankstein/untxt-sub002/pkg/version"
	"github.com/benfrankstein/untxt-sub002/pkg/worker"
)

// StoreConfig translates the database section into the metadata store
// configuration.
func (c *Config) StoreConfig() *store.Config {
	return &store.Config{
		Type: store.DatabaseType(c.Database.Type),
		SQLite: store.SQLiteConfig{
			Path: c.Database.SQLite.Path,
		},
		Postgres: store.PostgresConfig{
			Host:         c.Database.Postgres.Host,
			Port:         c.Database.Postgres.Port,
			Database:     c.Database.Postgres.Database,
			User:         c.Database.Postgres.User,
			Password:     c.Database.Postgres.Password,
			SSLMode:      c.Database.Postgres.SSLMode,
			MaxOpenConns: c.Database.Postgres.MaxOpenConns,
			MaxIdleConns: c.Database.Postgres.MaxIdleConns,
		},
	}
}

// BuildObjectStore creates the S3 client and object store from the
// object_store section.
func (c *Config) BuildObjectStore(ctx context.Context) (*objectstore.Store, error) {
	client, err := objectstore.NewS3ClientFromConfig(ctx,
		c.ObjectStore.Endpoint,
		c.ObjectStore.Region,
		c.ObjectStore.AccessKeyID,
		c.ObjectStore.SecretAccessKey,
		c.ObjectStore.ForcePathStyle,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return objectstore.New(ctx, objectstore.Config{
		Client:        client,
		Bucket:        c.ObjectStore.Bucket,
		Encryption:    objectstore.EncryptionMode(c.ObjectStore.Encryption),
		KMSKeyID:      c.ObjectStore.KMSKeyID,
		PresignGetTTL: c.ObjectStore.PresignGetTTL,
		PresignPutTTL: c.ObjectStore.PresignPutTTL,
	})
}

// QueueConfig translates the queue section.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		URL:           c.Queue.URL,
		Name:          c.Queue.Name,
		HighWaterMark: c.Queue.HighWaterMark,
	}
}

// BuildBus creates the event bus on its own redis connection.
func (c *Config) BuildBus() (*bus.Bus, error) {
	client, err := queue.NewClient(c.Bus.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bus: %w", err)
	}
	return bus.New(client), nil
}

// AuthServiceConfig translates the auth section.
func (c *Config) AuthServiceConfig() auth.Config {
	return auth.Config{
		Secret:   c.Auth.Secret,
		TokenTTL: c.Auth.TokenTTL,
		Issuer:   c.Auth.Issuer,
	}
}

// CaptureConfig translates the database section into the change capture
// listener configuration. Only meaningful for the postgres backend.
func (c *Config) CaptureConfig() capture.Config {
	pg := c.StoreConfig().Postgres
	return capture.Config{DSN: pg.DSN()}
}

// IngestServiceConfig translates the ingest section.
func (c *Config) IngestServiceConfig() ingest.Config {
	return ingest.Config{
		MaxUploadBytes:  int64(c.Ingest.MaxUploadBytes),
		RequeueAfter:    c.Ingest.RequeueAfter,
		RequeueInterval: c.Ingest.RequeueInterval,
	}
}

// WorkerPoolConfig translates the worker section.
func (c *Config) WorkerPoolConfig() worker.Config {
	return worker.Config{
		Workers:     c.Worker.Workers,
		PopTimeout:  c.Worker.PopTimeout,
		TaskTimeout: c.Worker.TaskTimeout,
		MaxAttempts: c.Worker.MaxAttempts,
	}
}

// GatewayHubConfig translates the gateway section.
func (c *Config) GatewayHubConfig() gateway.Config {
	return gateway.Config{
		PingInterval: c.Gateway.PingInterval,
		IdleTimeout:  c.Gateway.IdleTimeout,
		SendBuffer:   c.Gateway.SendBuffer,
	}
}

// VersionEngineConfig translates the versions section.
func (c *Config) VersionEngineConfig() version.Config {
	return version.Config{
		SnapshotWindow: c.Versions.SnapshotWindow,
		IdleTimeout:    c.Versions.SessionIdleTimeout,
		InlineLimit:    int(c.Versions.InlineLimit),
	}
}

// LifecycleServiceConfig translates the lifecycle section.
func (c *Config) LifecycleServiceConfig() lifecycle.Config {
	return lifecycle.Config{
		Policy: objectstore.LifecyclePolicy{
			DeletedExpiryDays:    int32(c.Lifecycle.DeletedExpiryDays),
			DeletedColdAfterDays: int32(c.Lifecycle.DeletedColdAfterDays),
			MultipartAbortDays:   int32(c.Lifecycle.MultipartAbortDays),
		},
		ScanReaper:   c.Lifecycle.ScanReaper,
		ScanInterval: c.Lifecycle.ScanInterval,
	}
}

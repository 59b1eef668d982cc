// Package app assembles the gateway from configuration. The HTTP server and
// the mail pipe share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/ticket-gateway/internal/attachments"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/config"
	"github.com/PratikDhanave/ticket-gateway/internal/handlers"
	"github.com/PratikDhanave/ticket-gateway/internal/metrics"
	"github.com/PratikDhanave/ticket-gateway/internal/schema"
	"github.com/PratikDhanave/ticket-gateway/internal/storage"
	"github.com/PratikDhanave/ticket-gateway/internal/store"
	"github.com/PratikDhanave/ticket-gateway/internal/tickets"
)

// Store is what the gateway needs from a persistence backend.
type Store interface {
	tickets.Backend
	schema.Registry
	auth.StaffStore
	attachments.Blobs
	Ping(ctx context.Context) error
}

// App is a fully wired gateway.
type App struct {
	Store   Store
	Service *tickets.Service
	Gate    *auth.Gate
	Metrics *metrics.Metrics
	Log     zerolog.Logger

	closers []func()
}

// New connects storage and wires the ticket service.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Metrics: metrics.New(), Log: log}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st

	blobs, err := a.openBlobs(ctx, cfg, st)
	if err != nil {
		a.Close()
		return nil, err
	}

	field := attachments.NewMessageField(attachments.FieldConfig{
		Enabled:      cfg.Attachments.Enabled,
		MaxBytes:     cfg.Attachments.MaxBytes,
		AllowedTypes: cfg.Attachments.AllowedTypeList(),
	}, blobs)
	ingestor := &attachments.Ingestor{
		Field:    field,
		Log:      log.With().Str("component", "attachments").Logger(),
		Observer: a.Metrics,
	}

	a.Service = tickets.NewService(st, st, ingestor, tickets.Options{
		Strict:            cfg.Strict,
		ResolvedStatusID:  cfg.ResolvedID,
		AttachmentURLBase: cfg.Attachments.URLBase,
	}, log.With().Str("component", "tickets").Logger(), a.Metrics)

	a.Gate = &auth.Gate{Keys: cfg.APIKeys, Staff: st}
	return a, nil
}

// Handlers returns the ticket API handlers bound to the app.
func (a *App) Handlers() *handlers.Tickets {
	return &handlers.Tickets{
		Service:  a.Service,
		Gate:     a.Gate,
		Log:      a.Log.With().Str("component", "http").Logger(),
		Observer: a.Metrics,
	}
}

// Close releases storage connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (Store, error) {
	user, password, seed := cfg.DevStaffCredentials()

	if cfg.DBURL == "" {
		a.Log.Warn().Msg("DB_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		if seed {
			if _, err := mem.AddStaff(user, user+"@localhost", password); err != nil {
				return nil, fmt.Errorf("seed staff: %w", err)
			}
		}
		return mem, nil
	}

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	// Ensure required tables exist so a fresh database is enough.
	if err := db.EnsureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if seed {
		if err := db.AddStaff(ctx, user, user+"@localhost", password); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed staff: %w", err)
		}
	}
	return db, nil
}

func (a *App) openBlobs(ctx context.Context, cfg config.Config, st Store) (attachments.Blobs, error) {
	if cfg.Attachments.Backend != "minio" {
		return st, nil
	}

	mc := cfg.MinIO
	client, err := storage.NewMinIO(mc.Endpoint, mc.AccessKey, mc.SecretKey, mc.UseTLS, mc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", mc.Bucket, err)
	}
	a.Log.Info().Str("bucket", mc.Bucket).Msg("attachments stored in minio")
	return client, nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streetbite/lakepipe/internal/config"
	"github.com/streetbite/lakepipe/internal/extract"
	"github.com/streetbite/lakepipe/internal/lake"
	"github.com/streetbite/lakepipe/internal/pipeline"
	"github.com/streetbite/lakepipe/internal/quarantine"
	"github.com/streetbite/lakepipe/internal/transform"
	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/database"
	"github.com/streetbite/lakepipe/pkg/logger"
)

// app holds the wired external collaborators for one command invocation.
type app struct {
	cfg       *config.Config
	settings  *config.Settings
	pool      *pgxpool.Pool
	store     *watermark.PostgresStore
	extractor *extract.Extractor
	writer    *lake.Writer
	sink      quarantine.Sink
}

// buildApp connects everything a writing command (run, daemon, backfill)
// needs. Connection failures surface before any pipeline state is touched.
func buildApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireObjectStore(); err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, settings: settings, pool: pool}

	a.store = watermark.NewPostgresStore(pool, settings.Pipeline.WatermarkName)
	if err := a.store.EnsureSchema(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	minioClient, err := database.ConnectObjectStore(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	objStore := lake.NewMinioStore(minioClient, cfg.S3Bucket)
	if err := objStore.EnsureBucket(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.writer = lake.NewWriter(objStore, settings.Lake.Prefix, settings.Retry.Policy())

	a.extractor = extract.New(pool, settings.Source.Table, settings.Source.QueryTimeout())

	a.sink, err = buildSink(ctx, cfg, settings)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	return a, nil
}

func buildSink(ctx context.Context, cfg *config.Config, settings *config.Settings) (quarantine.Sink, error) {
	if settings.Quarantine.Sink != "mongo" {
		return quarantine.LogSink{}, nil
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("quarantine.sink is mongo but LAKEPIPE_MONGO_URI environment variable not set")
	}
	client, err := database.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	return quarantine.NewMongoSink(client, settings.Quarantine.MongoDatabase, settings.Quarantine.MongoCollection), nil
}

// newPipeline assembles the orchestrator. cutoff is the historical lower
// bound used when no watermark exists yet; backfill overrides it.
func (a *app) newPipeline(cutoff time.Time) *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Extractor: a.extractor,
		Transformer: transform.New(transform.Config{
			Cutoff:         cutoff,
			MaxUnitID:      a.settings.Validation.MaxUnitID,
			PaymentMethods: a.settings.Validation.PaymentMethods,
		}),
		Writer:     a.writer,
		Watermarks: a.store,
		Quarantine: a.sink,
		Retry:      a.settings.Retry.Policy(),
		Cutoff:     cutoff,
	})
}

func (a *app) Close(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			logger.Warnf("Closing quarantine sink: %v", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

package regsync

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // import Postgres driver
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/database/mock"
	"github.com/vleurgat/regsync/internal/app/database/postgres"
	"github.com/vleurgat/regsync/internal/app/pipeline"
	"github.com/vleurgat/regsync/internal/app/registry"
	"github.com/vleurgat/regsync/internal/app/storage"
)

// syncer holds what stays the same from one sync of a repository to the next.
type syncer struct {
	opts    Options
	db      database.Database
	closer  io.Closer
	fetcher registry.Fetcher
	planner *registry.Planner
	equivs  *registry.EquivRegistries
	storage *storage.Storage
}

func newSyncer(ctx context.Context, opts Options) (*syncer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	equivs, err := registry.CreateEquivRegistries(opts.EquivRegistries)
	if err != nil {
		return nil, errors.Wrap(err, "failed to process equivalent registries file")
	}
	planner, err := registry.CreatePlanner(opts.RemoteURL, opts.UpstreamName, equivs)
	if err != nil {
		return nil, err
	}
	store, err := storage.CreateStorage(opts.StorageDir)
	if err != nil {
		return nil, err
	}
	dockerConfig, err := registry.CreateDockerConfig(opts.DockerConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to process docker config file")
	}
	retryDelay, _ := opts.retryDelay()
	timeout, _ := opts.timeout()
	client := registry.CreateClient(dockerConfig, registry.ClientOptions{
		DownloadDir:     store.DownloadDir(),
		MaxConcurrent:   opts.MaxConcurrent,
		RetrySteps:      opts.RetrySteps,
		RetryDelay:      retryDelay,
		Timeout:         timeout,
		EquivRegistries: equivs,
	})
	s := &syncer{
		opts:    opts,
		fetcher: client,
		planner: planner,
		equivs:  equivs,
		storage: store,
	}
	if err := s.openDatabase(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *syncer) openDatabase(ctx context.Context) error {
	switch s.opts.Database {
	case DatabaseMemory:
		logrus.Warn("using the in-memory database, nothing is kept after exit")
		s.db = mock.CreateDatabase()
		return nil
	default:
		db, err := postgres.CreateDatabase(s.opts.PgConnStr)
		if err != nil {
			return err
		}
		if err := db.CreateSchemaIfNecessary(ctx); err != nil {
			db.Close()
			return err
		}
		s.db = db
		s.closer = db
		return nil
	}
}

func (s *syncer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// sync runs the pipeline once.
func (s *syncer) sync(ctx context.Context) (pipeline.Summary, error) {
	runID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{
		"run":        runID,
		"repository": s.planner.NamespacedName(),
		"remote":     s.planner.Host(),
	})
	log.Info("sync started")
	start := time.Now()

	stages := []pipeline.Stage{
		pipeline.CreateBuilder(s.db, s.fetcher, s.planner, s.storage, pipeline.BuilderOptions{
			IncludeForeignLayers: s.opts.IncludeForeignLayers,
		}),
		pipeline.CreateResolver(s.db),
	}
	if s.opts.MaterializeBlobs {
		concurrency := int(s.opts.MaxConcurrent)
		stages = append(stages, pipeline.CreateDownloader(s.db, s.fetcher, s.storage, concurrency))
	}
	reporter := &pipeline.Reporter{}
	stages = append(stages, reporter)

	if err := pipeline.Run(ctx, stages...); err != nil {
		log.WithError(err).Error("sync failed")
		return reporter.Summary(), err
	}
	log.WithField("duration", time.Since(start).String()).Info("sync finished")
	reporter.LogJSONSummary()
	return reporter.Summary(), nil
}

// Sync mirrors the content graph of one upstream repository into the
// configured database and storage.
func Sync(ctx context.Context, opts Options) (pipeline.Summary, error) {
	s, err := newSyncer(ctx, opts)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer s.Close()
	return s.sync(ctx)
}

// CreateSchema creates the Postgres schema if it does not exist yet.
func CreateSchema(ctx context.Context, pgConnStr string) error {
	db, err := postgres.CreateDatabase(pgConnStr)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.CreateSchemaIfNecessary(ctx)
}

package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	config "testbot/configs"
	"testbot/pkg/models"
	"testbot/pkg/storage"
	"testbot/pkg/storage/memory"
	"testbot/pkg/storage/postgres"
	"testbot/pkg/storage/redis"
)

// stores bundles the persistence backends selected by configuration.
type stores struct {
	history   storage.RunStore
	recorders []storage.RunRecorder
	artifacts func(target models.RunTarget, projectDir string) storage.LogStore
	closers   []func() error
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.RunStore {
	case config.RunStorePostgres:
		pg, err := postgres.NewPostgresStore(cfg.DSN())
		if err != nil {
			return nil, err
		}
		st.history = pg
		st.closers = append(st.closers, pg.Close)
		log.Info("Postgres connected & schema initialized")
	default:
		st.history = memory.NewStore(cfg.HistoryLimit)
	}
	st.recorders = append(st.recorders, st.history)

	if cfg.RedisAddr != "" {
		rcfg := redis.DefaultRunStreamConfig(cfg.RedisAddr)
		rcfg.Password = cfg.RedisPassword
		rcfg.Stream = cfg.RedisStream
		rs, err := redis.NewRunStream(rcfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.recorders = append(st.recorders, rs)
		st.closers = append(st.closers, rs.Close)
		log.Info("Publishing runs to redis", zap.String("stream", cfg.RedisStream))
	}

	var s3Store *storage.S3LogStore
	if cfg.LogStore == config.LogStoreS3 {
		var err error
		s3Store, err = storage.NewS3LogStore(ctx, storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		log.Info("Uploading phase logs to S3", zap.String("bucket", cfg.S3Bucket))
	}

	st.artifacts = func(target models.RunTarget, projectDir string) storage.LogStore {
		local := storage.NewLocalLogStore(projectDir)
		if s3Store == nil {
			return local
		}
		return storage.MultiLogStore{local, s3Store.Scoped(target.ProjectName, target.EnvironmentName)}
	}
	return st, nil
}

func (s *stores) Close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	return errs
}

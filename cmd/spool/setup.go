package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/spool/artifact/filesystem"
	"github.com/xraph/spool/artifact/s3"
	"github.com/xraph/spool/config"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/store"
	"github.com/xraph/spool/store/memory"
	"github.com/xraph/spool/store/postgres"
	redisstore "github.com/xraph/spool/store/redis"
)

// openStore opens the configured backend. The returned closer releases
// everything openStore acquired.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		s := memory.New()
		return s, func() { _ = s.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := redisstore.New(client, redisstore.WithLogger(logger))
		return s, func() {
			_ = s.Close()
			_ = client.Close()
		}, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openArtifacts builds artifact storage. files is non-nil only for the
// filesystem backend, which serves its own downloads.
func openArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (export.ArtifactStorage, *filesystem.Storage, error) {
	switch cfg.Backend {
	case "filesystem":
		fs, err := filesystem.New(cfg.Dir, cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil

	case "s3":
		s, err := s3.New(ctx, s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			PublicURL:       cfg.S3.PublicURL,
			PresignExpiry:   cfg.S3.PresignExpiry,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}

// filesHandler returns the download handler for fs, or nil.
func filesHandler(fs *filesystem.Storage, exports *export.Service, logger *slog.Logger) http.Handler {
	if fs == nil || exports == nil {
		return nil
	}
	return fs.Handler(exports, logger)
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
)

// CreateExport stores the export as a Hash and indexes it by user.
func (s *Store) CreateExport(ctx context.Context, e *export.Export) error {
	eID := e.ID.String()
	key := exportKey(eID)

	created, err := s.client.HSetNX(ctx, key, "id", eID).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: create export: %w", err)
	}
	if !created {
		return spool.ErrExportAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, exportToMap(e))
	pipe.ZAdd(ctx, userExportsKey(e.UserID), goredis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: eID})
	indexExport(ctx, pipe, e, "")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spool/redis: create export: %w", err)
	}
	return nil
}

// GetExport retrieves an export by ID.
func (s *Store) GetExport(ctx context.Context, exportID id.ExportID) (*export.Export, error) {
	return s.getExportByKey(ctx, exportKey(exportID.String()))
}

// GetExportByFilename retrieves the export that owns filename.
func (s *Store) GetExportByFilename(ctx context.Context, filename string) (*export.Export, error) {
	if filename == "" {
		return nil, spool.ErrExportNotFound
	}
	eID, err := s.client.HGet(ctx, exportFilenamesKey, filename).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, spool.ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get export by filename: %w", err)
	}
	return s.getExportByKey(ctx, exportKey(eID))
}

// UpdateExport persists changes to an existing export and keeps the
// filename and expiry indexes in step.
func (s *Store) UpdateExport(ctx context.Context, e *export.Export) error {
	key := exportKey(e.ID.String())
	prev, err := s.client.HGet(ctx, key, "filename").Result()
	if errors.Is(err, goredis.Nil) {
		return spool.ErrExportNotFound
	}
	if err != nil {
		return fmt.Errorf("spool/redis: update export: %w", err)
	}

	fields := exportToMap(e)
	fields["updated_at"] = formatTime(time.Now())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	indexExport(ctx, pipe, e, prev)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spool/redis: update export: %w", err)
	}
	return nil
}

// ListExports returns the exports of a user, newest first.
func (s *Store) ListExports(ctx context.Context, userID string, opts export.ListOpts) ([]*export.Export, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, userExportsKey(userID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list exports: %w", err)
	}
	return s.getExports(ctx, ids)
}

// ListExpiredExports returns completed exports whose expiry is before now.
func (s *Store) ListExpiredExports(ctx context.Context, now time.Time, limit int) ([]*export.Export, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, exportExpiryKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list expired exports: %w", err)
	}
	all, err := s.getExports(ctx, ids)
	if err != nil {
		return nil, err
	}
	expired := all[:0]
	for _, e := range all {
		if e.Expired(now) {
			expired = append(expired, e)
		}
	}
	return expired, nil
}

// ── helpers ──

// indexExport queues the index updates for e on pipe. prev is the filename
// currently stored for the export.
func indexExport(ctx context.Context, pipe goredis.Pipeliner, e *export.Export, prev string) {
	eID := e.ID.String()
	if prev != "" && prev != e.Filename {
		pipe.HDel(ctx, exportFilenamesKey, prev)
	}
	if e.Filename != "" {
		pipe.HSet(ctx, exportFilenamesKey, e.Filename, eID)
	}
	if e.Status == export.StatusCompleted && e.ExpiresAt != nil {
		pipe.ZAdd(ctx, exportExpiryKey, goredis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: eID})
	} else {
		pipe.ZRem(ctx, exportExpiryKey, eID)
	}
}

func (s *Store) getExports(ctx context.Context, ids []string) ([]*export.Export, error) {
	out := make([]*export.Export, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getExportByKey(ctx, exportKey(eID))
		if errors.Is(err, spool.ErrExportNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func exportToMap(e *export.Export) map[string]interface{} {
	return map[string]interface{}{
		"id":              e.ID.String(),
		"user_id":         e.UserID,
		"project_id":      e.ProjectID,
		"format":          string(e.Format),
		"status":          string(e.Status),
		"notify_email":    e.NotifyEmail,
		"job_id":          e.JobID.String(),
		"filename":        e.Filename,
		"file_url":        e.FileURL,
		"file_size_bytes": strconv.FormatInt(e.FileSizeBytes, 10),
		"error_message":   e.ErrorMessage,
		"started_at":      formatTimePtr(e.StartedAt),
		"completed_at":    formatTimePtr(e.CompletedAt),
		"expires_at":      formatTimePtr(e.ExpiresAt),
		"notified_at":     formatTimePtr(e.NotifiedAt),
		"created_at":      formatTime(e.CreatedAt),
		"updated_at":      formatTime(e.UpdatedAt),
	}
}

func (s *Store) getExportByKey(ctx context.Context, key string) (*export.Export, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get export: %w", err)
	}
	if len(vals) == 0 {
		return nil, spool.ErrExportNotFound
	}
	return mapToExport(vals)
}

func mapToExport(m map[string]string) (*export.Export, error) {
	eID, err := id.ParseExportID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse export id: %w", err)
	}
	var jID id.JobID
	if v := m["job_id"]; v != "" {
		jID, _ = id.ParseJobID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	size, _ := strconv.ParseInt(m["file_size_bytes"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	return &export.Export{
		Entity: spool.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:            eID,
		UserID:        m["user_id"],
		ProjectID:     m["project_id"],
		Format:        export.Format(m["format"]),
		Status:        export.Status(m["status"]),
		NotifyEmail:   m["notify_email"],
		JobID:         jID,
		Filename:      m["filename"],
		FileURL:       m["file_url"],
		FileSizeBytes: size,
		ErrorMessage:  m["error_message"],
		StartedAt:     parseTimePtr(m["started_at"]),
		CompletedAt:   parseTimePtr(m["completed_at"]),
		ExpiresAt:     parseTimePtr(m["expires_at"]),
		NotifiedAt:    parseTimePtr(m["notified_at"]),
	}, nil
}

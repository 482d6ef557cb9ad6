package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
)

const exportColumns = `
	id, user_id, project_id, format, status, notify_email, job_id,
	filename, file_url, file_size_bytes, error_message,
	started_at, completed_at, expires_at, notified_at, created_at, updated_at`

// CreateExport persists a new export record.
func (s *Store) CreateExport(ctx context.Context, e *export.Export) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_exports (`+exportColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`,
		e.ID.String(), e.UserID, e.ProjectID, string(e.Format), string(e.Status), e.NotifyEmail, e.JobID,
		e.Filename, e.FileURL, e.FileSizeBytes, e.ErrorMessage,
		e.StartedAt, e.CompletedAt, e.ExpiresAt, e.NotifiedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return spool.ErrExportAlreadyExists
		}
		return fmt.Errorf("spool/postgres: create export: %w", err)
	}
	return nil
}

// GetExport retrieves an export by ID.
func (s *Store) GetExport(ctx context.Context, exportID id.ExportID) (*export.Export, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+exportColumns+` FROM spool_exports WHERE id = $1`,
		exportID.String(),
	)
	return getExport(row, "get export")
}

// GetExportByFilename retrieves the export that owns filename.
func (s *Store) GetExportByFilename(ctx context.Context, filename string) (*export.Export, error) {
	if filename == "" {
		return nil, spool.ErrExportNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT`+exportColumns+` FROM spool_exports WHERE filename = $1`,
		filename,
	)
	return getExport(row, "get export by filename")
}

// UpdateExport persists changes to an existing export.
func (s *Store) UpdateExport(ctx context.Context, e *export.Export) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spool_exports SET
			status = $2, notify_email = $3, job_id = $4,
			filename = $5, file_url = $6, file_size_bytes = $7, error_message = $8,
			started_at = $9, completed_at = $10, expires_at = $11, notified_at = $12,
			updated_at = NOW()
		WHERE id = $1`,
		e.ID.String(), string(e.Status), e.NotifyEmail, e.JobID,
		e.Filename, e.FileURL, e.FileSizeBytes, e.ErrorMessage,
		e.StartedAt, e.CompletedAt, e.ExpiresAt, e.NotifiedAt,
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: update export: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spool.ErrExportNotFound
	}
	return nil
}

// ListExports returns the exports of a user, newest first.
func (s *Store) ListExports(ctx context.Context, userID string, opts export.ListOpts) ([]*export.Export, error) {
	query := `SELECT` + exportColumns + `
		FROM spool_exports
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list exports: %w", err)
	}
	defer rows.Close()

	return collectExports(rows)
}

// ListExpiredExports returns up to limit completed exports past ExpiresAt.
func (s *Store) ListExpiredExports(ctx context.Context, now time.Time, limit int) ([]*export.Export, error) {
	query := `SELECT` + exportColumns + `
		FROM spool_exports
		WHERE status = 'completed' AND expires_at < $1
		ORDER BY expires_at ASC`
	args := []any{now.UTC()}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list expired exports: %w", err)
	}
	defer rows.Close()

	return collectExports(rows)
}

// ──────────────────────────────────────────────────
// Scan helpers
// ──────────────────────────────────────────────────

func getExport(row pgx.Row, op string) (*export.Export, error) {
	e, err := scanExport(row)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrExportNotFound
		}
		return nil, fmt.Errorf("spool/postgres: %s: %w", op, err)
	}
	return e, nil
}

// scanExport scans a single row into an export.Export.
func scanExport(row pgx.Row) (*export.Export, error) {
	var (
		e         export.Export
		idStr     string
		jobIDStr  *string
		formatStr string
		statusStr string
	)

	err := row.Scan(
		&idStr, &e.UserID, &e.ProjectID, &formatStr, &statusStr, &e.NotifyEmail, &jobIDStr,
		&e.Filename, &e.FileURL, &e.FileSizeBytes, &e.ErrorMessage,
		&e.StartedAt, &e.CompletedAt, &e.ExpiresAt, &e.NotifiedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseExportID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse export id %q: %w", idStr, err)
	}
	e.ID = parsed

	if jobIDStr != nil && *jobIDStr != "" {
		jobID, err := id.ParseJobID(*jobIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse job id %q: %w", *jobIDStr, err)
		}
		e.JobID = jobID
	}

	e.Format = export.Format(formatStr)
	e.Status = export.Status(statusStr)
	return &e, nil
}

// collectExports scans all rows into a slice of exports.
func collectExports(rows pgx.Rows) ([]*export.Export, error) {
	exports := make([]*export.Export, 0)
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("spool/postgres: scan export: %w", err)
		}
		exports = append(exports, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: rows: %w", err)
	}
	return exports, nil
}

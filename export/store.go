package export

import (
	"context"
	"time"

	"github.com/xraph/spool/id"
)

// ListOpts controls pagination for export list queries.
type ListOpts struct {
	// Limit is the maximum number of exports to return. Zero means no limit.
	Limit int
	// Offset is the number of exports to skip.
	Offset int
}

// Store defines the persistence contract for export records. Records have a
// single writer at a time (the processor holding the active job), so plain
// updates are sufficient.
type Store interface {
	// CreateExport persists a new export record.
	CreateExport(ctx context.Context, e *Export) error

	// GetExport retrieves an export by ID.
	GetExport(ctx context.Context, exportID id.ExportID) (*Export, error)

	// GetExportByFilename retrieves the export that owns an artifact file.
	GetExportByFilename(ctx context.Context, filename string) (*Export, error)

	// UpdateExport persists changes to an existing export.
	UpdateExport(ctx context.Context, e *Export) error

	// ListExports returns the exports of a user, newest first.
	ListExports(ctx context.Context, userID string, opts ListOpts) ([]*Export, error)

	// ListExpiredExports returns up to limit completed exports whose
	// ExpiresAt is before now.
	ListExpiredExports(ctx context.Context, now time.Time, limit int) ([]*Export, error)
}

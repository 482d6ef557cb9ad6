package spool

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("spool: no store configured")
	ErrStoreClosed     = errors.New("spool: store closed")
	ErrMigrationFailed = errors.New("spool: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("spool: job not found")
	ErrExportNotFound   = errors.New("spool: export not found")
	ErrQueueNotFound    = errors.New("spool: queue not found")
	ErrArtifactNotFound = errors.New("spool: artifact not found")
	ErrProjectNotFound  = errors.New("spool: project not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("spool: job already exists")
	ErrExportAlreadyExists = errors.New("spool: export already exists")

	// State errors.
	ErrInvalidTransition = errors.New("spool: invalid state transition")
	ErrNoHandler         = errors.New("spool: no handler registered for job type")
	ErrNoWorkflowData    = errors.New("spool: project has no workflow data")
	ErrInvalidRequest    = errors.New("spool: invalid request")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("spool: already started")
	ErrNotRunning     = errors.New("spool: not running")
	ErrQueueClosed    = errors.New("spool: queue closed")
)

package app

import (
	"context"

	"github.com/quarteridge/galleryd/internal/infra/config"
	"github.com/quarteridge/galleryd/internal/infra/logger"
	"github.com/quarteridge/galleryd/internal/scheduler"
	"github.com/quarteridge/galleryd/internal/state"
)

// SnapshotStore persists session snapshots between runs. Implemented
// by the sqlite store; kept as an interface so the API and CLI never
// import the database package directly.
type SnapshotStore interface {
	Save(ctx context.Context, snap state.Snapshot) (runID string, err error)
	Latest(ctx context.Context) (state.Snapshot, error)
	Close() error
}

// Context holds the core environment and shared resources for
// galleryd. It is assembled once in main and handed to every service.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	State     *state.Store
	Scheduler *scheduler.Scheduler
	Snapshots SnapshotStore
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}

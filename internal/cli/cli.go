package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"camtrap/internal/config"
	"camtrap/internal/pipeline"
	"camtrap/internal/server"
	"camtrap/internal/storage"
	"camtrap/internal/watch"

	"github.com/google/uuid"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr, watchProject string) error

// Root wires CLI commands to the pipeline and the catalogue.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root shared by all subcommands.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	r := &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
	}
	r.serveFn = r.defaultServe
	return r
}

func (r *Root) defaultServe(ctx context.Context, addr, watchProject string) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}

	var watcher *watch.Watcher
	if watchProject != "" {
		proj, err := r.store.ProjectByName(watchProject)
		if err != nil {
			return fmt.Errorf("unknown project %q: %w", watchProject, err)
		}
		watcher, err = watch.New(proj.Name, proj.DataFolder, real, r.log)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	srv := server.NewServer(addr, r.store, real, watcher, r.log)
	return srv.Start(ctx)
}

// enqueueAndWait submits a job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (map[string]any, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	if err := r.pipeline.Submit(job); err != nil {
		return nil, err
	}
	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return nil, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res.Meta, res.Error
			}
		}
	}
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

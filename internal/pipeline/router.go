package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"camtrap/internal/analysis"
	"camtrap/internal/config"
	"camtrap/internal/project"
	"camtrap/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log   *slog.Logger
	store *storage.Store
	cfg   *config.Config

	scanFn    func(ctx context.Context, proj storage.ProjectRecord, restrictTo []string) (project.ScanSummary, error)
	analyzeFn func(ctx context.Context, proj storage.ProjectRecord, locationID int64) (analysis.Summary, error)
	exportFn  func(ctx context.Context, proj storage.ProjectRecord, locationID int64, outDir string) ([]analysis.ExportResult, error)
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	r := &router{log: logger, store: store, cfg: cfg}

	r.scanFn = func(ctx context.Context, proj storage.ProjectRecord, restrictTo []string) (project.ScanSummary, error) {
		s := project.NewScanner(store, cfg.Ingest, logger)
		s.RestrictTo = restrictTo
		return s.Scan(ctx, proj)
	}
	r.analyzeFn = func(ctx context.Context, proj storage.ProjectRecord, locationID int64) (analysis.Summary, error) {
		return analysis.NewAnalyzer(store, cfg, logger).Run(ctx, proj, locationID)
	}
	r.exportFn = func(ctx context.Context, proj storage.ProjectRecord, locationID int64, outDir string) ([]analysis.ExportResult, error) {
		return analysis.NewExporter(store, proj).ExportLocation(ctx, locationID, outDir)
	}
	return r
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScan:
		return r.handleScan(ctx, job)
	case JobAnalyze:
		return r.handleAnalyze(ctx, job)
	case JobExport:
		return r.handleExport(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	proj, err := r.projectOption(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	var restrictTo []string
	if v, ok := job.Options["locations"].([]string); ok {
		restrictTo = v
	}

	summary, err := r.scanFn(ctx, proj, restrictTo)
	meta := map[string]any{
		"locations":      summary.Locations,
		"videos":         summary.Videos,
		"metadata_fails": summary.MetadataFails,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleAnalyze(ctx context.Context, job Job) Result {
	proj, err := r.projectOption(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	loc, err := r.locationOption(job, proj)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	summary, err := r.analyzeFn(ctx, proj, loc.ID)
	meta := map[string]any{
		"location":        loc.Name,
		"frames":          summary.Frames,
		"detections":      summary.Detections,
		"tracks":          summary.TracksSaved,
		"sequence_breaks": summary.SequenceBreaks,
		"fragmentation":   summary.Metrics.FragmentationRatio,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleExport(ctx context.Context, job Job) Result {
	proj, err := r.projectOption(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	loc, err := r.locationOption(job, proj)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	outDir := job.Output
	if outDir == "" {
		outDir = "snapshots"
	}

	results, err := r.exportFn(ctx, proj, loc.ID, outDir)
	files := make([]string, len(results))
	for i, res := range results {
		files[i] = res.OutputFile
	}
	meta := map[string]any{
		"location":  loc.Name,
		"snapshots": len(results),
		"files":     files,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) projectOption(job Job) (storage.ProjectRecord, error) {
	name, _ := job.Options["project"].(string)
	if name == "" {
		return storage.ProjectRecord{}, fmt.Errorf("job %s is missing the project option", job.ID)
	}
	proj, err := r.store.ProjectByName(name)
	if err != nil {
		return storage.ProjectRecord{}, fmt.Errorf("unknown project %q: %w", name, err)
	}
	return proj, nil
}

func (r *router) locationOption(job Job, proj storage.ProjectRecord) (storage.LocationRecord, error) {
	name, _ := job.Options["location"].(string)
	if name == "" {
		return storage.LocationRecord{}, fmt.Errorf("job %s is missing the location option", job.ID)
	}
	loc, err := r.store.LocationByName(proj.ID, name)
	if err != nil {
		return storage.LocationRecord{}, fmt.Errorf("unknown location %q in project %s: %w", name, proj.Name, err)
	}
	return loc, nil
}

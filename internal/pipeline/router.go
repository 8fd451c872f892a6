package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"panoramer/internal/config"
	"panoramer/internal/logging"
	"panoramer/internal/stitch"
	"panoramer/internal/storage"
	"panoramer/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log        *slog.Logger
	store      *storage.Store
	cfg        *config.Config
	stitchFn   stitchFunc
	generateFn generateFunc
}

type stitchFunc func(ctx context.Context, req tasks.PanoramaRequest) (tasks.PanoramaResult, error)

type generateFunc func(ctx context.Context, req tasks.GenerateRequest) (tasks.GenerateResult, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:        logger,
		store:      store,
		cfg:        cfg,
		stitchFn:   tasks.AssemblePanorama,
		generateFn: tasks.GeneratePanorama,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStitch:
		return r.handleStitch(ctx, job)
	case JobGenerate:
		return r.handleGenerate(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStitch(ctx context.Context, job Job) Result {
	input := job.InputPath
	if input == "" {
		input = r.cfg.Paths.UploadDir
	}
	output := job.Output
	if output == "" {
		output = r.cfg.Paths.OutputDir
	}

	res, err := r.stitchFn(ctx, tasks.PanoramaRequest{
		InputDir: input,
		Output:   output,
		Quality:  r.quality(job),
		Config:   r.cfg.Stitching,
		OnStep:   r.stepRecorder(job),
		Logger:   r.log.With("job", job.ID),
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{
		"panorama_image":     res.PanoramaPath,
		"matched_points":     res.MatchedPointsPath,
		"images":             res.ImageCount,
		"width":              res.Width,
		"height":             res.Height,
		"steps":              len(res.Steps),
		"processing_time_ms": res.Duration.Milliseconds(),
	}}
}

func (r *router) handleGenerate(ctx context.Context, job Job) Result {
	input := job.InputPath
	if input == "" {
		input = r.cfg.Paths.UploadDir
	}
	results := job.Output
	if results == "" {
		results = r.cfg.ResultsDir()
	}

	res, err := r.generateFn(ctx, tasks.GenerateRequest{
		InputDir:   input,
		ResultsDir: results,
		Quality:    r.quality(job),
		Config:     r.cfg.Stitching,
		OnStep:     r.stepRecorder(job),
		Logger:     r.log.With("job", job.ID),
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{
		"results_dir":        res.ResultsDir,
		"results":            res.Results,
		"panorama":           res.PanoramaPath,
		"images":             res.ImageCount,
		"steps":              len(res.Steps),
		"processing_time_ms": res.Duration.Milliseconds(),
	}}
}

func (r *router) quality(job Job) int {
	if q, ok := intOption(job.Options, "quality"); ok && q > 0 && q <= 100 {
		return q
	}
	return r.cfg.Processing.JPEGQuality
}

// stepRecorder persists and logs every fold step of job.
func (r *router) stepRecorder(job Job) func(stitch.StepReport) {
	return func(rep stitch.StepReport) {
		s := rep.Summary()
		stepInliers.Observe(float64(s.Inliers))
		if err := r.store.RecordStitchStep(storage.StepRecord{
			JobID:      job.ID,
			Step:       s.Step,
			LeftIndex:  s.LeftIndex,
			RightIndex: s.RightIndex,
			Keypoints:  s.Keypoints,
			Matches:    s.Matches,
			Inliers:    s.Inliers,
			Width:      s.Width,
			Height:     s.Height,
		}); err != nil {
			r.log.Warn("failed to record stitch step", "job", job.ID, "step", s.Step, "error", err)
		}
		logging.LogProcessingStep(r.log, job.ID, fmt.Sprintf("fold-%d", s.Step), "completed", map[string]any{
			"left_index":  s.LeftIndex,
			"right_index": s.RightIndex,
			"matches":     s.Matches,
			"inliers":     s.Inliers,
			"canvas":      fmt.Sprintf("%dx%d", s.Width, s.Height),
		})
	}
}

// intOption accepts ints and JSON-decoded floats.
func intOption(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"panoramer/internal/fsutil"
	"panoramer/internal/imaging"
	"panoramer/internal/stitch"
)

// Artifact names written by the stitch and generate tasks.
const (
	PanoramaFile      = "panorama_image.jpg"
	MatchedPointsFile = "matched_points.jpg"
)

// PanoramaRequest defines inputs for stitching a directory of uploads.
type PanoramaRequest struct {
	InputDir string
	Images   []string // explicit ordered list, overrides InputDir
	Output   string   // directory receiving the two artifacts
	Quality  int      // JPEG quality
	Config   stitch.Config
	// Stitcher replaces the default pairwise stitcher when set.
	Stitcher stitch.PairStitcher
	OnStep   func(stitch.StepReport)
	Logger   *slog.Logger
}

// PanoramaResult captures output metadata.
type PanoramaResult struct {
	PanoramaPath      string               `json:"panorama_image_path"`
	MatchedPointsPath string               `json:"matched_points_path"`
	ImageCount        int                  `json:"image_count"`
	Width             int                  `json:"width"`
	Height            int                  `json:"height"`
	Steps             []stitch.StepSummary `json:"steps"`
	Duration          time.Duration        `json:"duration"`
}

// AssemblePanorama stitches every image in the request and writes the
// panorama and the final match visualization.
func AssemblePanorama(ctx context.Context, req PanoramaRequest) (PanoramaResult, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	paths, err := resolveImages(req.InputDir, req.Images, false)
	if err != nil {
		return PanoramaResult{}, err
	}

	output := req.Output
	if output == "" {
		output = "./static/output"
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return PanoramaResult{}, fmt.Errorf("failed to create output directory: %v", err)
	}

	logger.Info("starting panorama stitching",
		"input_dir", req.InputDir,
		"images", len(paths),
		"output", output,
	)

	images, err := loadImages(ctx, paths)
	if err != nil {
		return PanoramaResult{}, err
	}

	p, err := newPanoramer(req.Config, req.Stitcher, logger)
	if err != nil {
		return PanoramaResult{}, err
	}
	p.OnStep = req.OnStep

	pano, err := p.Build(images, true)
	if err != nil {
		return PanoramaResult{}, fmt.Errorf("stitch %d images: %w", len(images), err)
	}

	result := PanoramaResult{
		PanoramaPath:      filepath.Join(output, PanoramaFile),
		MatchedPointsPath: filepath.Join(output, MatchedPointsFile),
		ImageCount:        len(images),
		Width:             pano.Image.Width,
		Height:            pano.Image.Height,
		Steps:             pano.Steps,
	}
	if err := imaging.Save(result.PanoramaPath, pano.Image, req.Quality); err != nil {
		return PanoramaResult{}, err
	}
	if pano.Visualization != nil {
		if err := imaging.Save(result.MatchedPointsPath, pano.Visualization, req.Quality); err != nil {
			return PanoramaResult{}, err
		}
	}
	result.Duration = time.Since(start)

	logger.Info("panorama stitching completed",
		"output", result.PanoramaPath,
		"images_used", result.ImageCount,
		"dimensions", fmt.Sprintf("%dx%d", result.Width, result.Height),
		"duration", result.Duration,
	)
	return result, nil
}

// GenerateRequest defines inputs for the step-by-step generate mode.
type GenerateRequest struct {
	InputDir   string
	ResultsDir string // defaults to <InputDir>/results
	Quality    int
	Config     stitch.Config
	Stitcher   stitch.PairStitcher
	OnStep     func(stitch.StepReport)
	Logger     *slog.Logger
}

// GenerateResult lists the per-step artifacts by group.
type GenerateResult struct {
	ResultsDir   string               `json:"results_dir"`
	Results      map[string][]string  `json:"results"`
	PanoramaPath string               `json:"panorama_path"`
	ImageCount   int                  `json:"image_count"`
	Steps        []stitch.StepSummary `json:"steps"`
	Duration     time.Duration        `json:"duration"`
}

// GeneratePanorama stitches uploads named by number (1.jpg, 2.jpg, ...) and
// writes the correspondences, the inlier classification and the running
// panorama of every fold step.
func GeneratePanorama(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	paths, err := resolveImages(req.InputDir, nil, true)
	if err != nil {
		return GenerateResult{}, err
	}

	resultsDir := req.ResultsDir
	if resultsDir == "" {
		resultsDir = filepath.Join(req.InputDir, "results")
	}
	// stale artifacts from a longer previous run would be listed otherwise
	if err := fsutil.ClearDir(resultsDir); err != nil {
		return GenerateResult{}, fmt.Errorf("prepare results directory: %w", err)
	}

	images, err := loadImages(ctx, paths)
	if err != nil {
		return GenerateResult{}, err
	}

	p, err := newPanoramer(req.Config, req.Stitcher, logger)
	if err != nil {
		return GenerateResult{}, err
	}
	p.VisualizeAll = true

	var writeErr error
	p.OnStep = func(r stitch.StepReport) {
		if writeErr == nil {
			writeErr = writeStepArtifacts(resultsDir, r, req.Quality)
		}
		if req.OnStep != nil {
			req.OnStep(r)
		}
	}

	pano, err := p.Build(images, true)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("generate from %d images: %w", len(images), err)
	}
	if writeErr != nil {
		return GenerateResult{}, writeErr
	}

	files, err := fsutil.ListFiles(resultsDir)
	if err != nil {
		return GenerateResult{}, err
	}
	result := GenerateResult{
		ResultsDir:   resultsDir,
		Results:      fsutil.GroupResults(files),
		PanoramaPath: filepath.Join(resultsDir, fmt.Sprintf("panorama_%d.jpg", len(pano.Steps))),
		ImageCount:   len(images),
		Steps:        pano.Steps,
		Duration:     time.Since(start),
	}

	logger.Info("panorama generation completed",
		"results_dir", resultsDir,
		"steps", len(pano.Steps),
		"duration", result.Duration,
	)
	return result, nil
}

func writeStepArtifacts(dir string, r stitch.StepReport, quality int) error {
	res := r.Result
	corr := stitch.DrawMatches(r.Left, r.Right, res.Left, res.Right, res.Matches, nil)
	artifacts := []struct {
		name string
		img  *imaging.Image
	}{
		{fmt.Sprintf("sift_correspondence_%d.jpg", r.Step), corr},
		{fmt.Sprintf("inliers_outliers_%d.jpg", r.Step), res.Visualization},
		{fmt.Sprintf("panorama_%d.jpg", r.Step), res.Panorama},
	}
	for _, a := range artifacts {
		if a.img == nil {
			continue
		}
		if err := imaging.Save(filepath.Join(dir, a.name), a.img, quality); err != nil {
			return fmt.Errorf("write step %d artifact: %w", r.Step, err)
		}
	}
	return nil
}

func newPanoramer(cfg stitch.Config, ps stitch.PairStitcher, logger *slog.Logger) (*stitch.Panoramer, error) {
	if ps == nil {
		s, err := stitch.NewStitcher(cfg, logger)
		if err != nil {
			return nil, err
		}
		ps = s
	}
	return stitch.NewPanoramer(cfg, ps, logger), nil
}

// resolveImages returns the ordered image list of a request. With numeric
// set every file must be named by its position.
func resolveImages(dir string, explicit []string, numeric bool) ([]string, error) {
	paths := explicit
	if len(paths) == 0 {
		var err error
		paths, err = fsutil.ListImages(dir)
		if err != nil {
			return nil, fmt.Errorf("list images in %s: %w", dir, err)
		}
		fsutil.SortNumeric(paths)
	}
	if len(paths) < 2 {
		return nil, fmt.Errorf("at least two images are required for stitching, found %d: %w", len(paths), stitch.ErrInvalidInput)
	}
	if numeric {
		if err := fsutil.RequireNumericStems(paths); err != nil {
			return nil, fmt.Errorf("%v: %w", err, stitch.ErrInvalidInput)
		}
	}
	return paths, nil
}

// loadImages decodes paths concurrently and keeps their order.
func loadImages(ctx context.Context, paths []string) ([]*imaging.Image, error) {
	images := make([]*imaging.Image, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := imaging.Load(p)
			if err != nil {
				return fmt.Errorf("load %s: %v: %w", filepath.Base(p), err, stitch.ErrInvalidInput)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

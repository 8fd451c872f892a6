package stitch

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"panoramer/internal/imaging"
)

// Stage names a step of a pairwise stitch, used in logs and traces.
type Stage string

const (
	StageExtractFeatures    Stage = "extract_features"
	StageMatch              Stage = "match"
	StageEstimateHomography Stage = "estimate_homography"
	StageWarpBlend          Stage = "warp_blend"
	StageVisualize          Stage = "visualize"
)

// PairStitcher merges two images. The left image is the destination plane.
type PairStitcher interface {
	Stitch(left, right *imaging.Image, visualize bool) (*StitchResult, error)
}

// Stitcher is the default PairStitcher built from the core components.
type Stitcher struct {
	extractor FeatureExtractor
	matcher   *RatioMatcher
	estimator *RansacEstimator
	warper    *Warper
	log       *slog.Logger
}

// NewStitcher validates cfg and assembles the pipeline.
func NewStitcher(cfg Config, logger *slog.Logger) (*Stitcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid stitch config")
	}
	extractor, err := NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{
		extractor: extractor,
		matcher:   NewRatioMatcher(cfg),
		estimator: NewRansacEstimator(cfg),
		warper:    NewWarper(cfg),
		log:       logger,
	}, nil
}

// Stitch warps right onto the plane of left. Failures from any stage are
// returned as is.
func (s *Stitcher) Stitch(left, right *imaging.Image, visualize bool) (*StitchResult, error) {
	if left == nil || right == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil image")
	}
	start := time.Now()

	leftKps, rightKps, err := s.extractBoth(left, right)
	if err != nil {
		s.failed(StageExtractFeatures, err)
		return nil, err
	}
	s.log.Debug("features extracted", "stage", StageExtractFeatures, "left", len(leftKps), "right", len(rightKps))

	matches, err := s.matcher.Match(rightKps, leftKps)
	if err != nil {
		s.failed(StageMatch, err)
		return nil, err
	}
	s.log.Debug("descriptors matched", "stage", StageMatch, "matches", len(matches))

	src, dst := Correspondences(matches, rightKps, leftKps)
	h, inliers, err := s.estimator.Estimate(src, dst)
	if err != nil {
		s.failed(StageEstimateHomography, err)
		return nil, err
	}

	res := &StitchResult{
		Homography: h,
		Left:       leftKps,
		Right:      rightKps,
		Matches:    matches,
		Inliers:    inliers,
	}
	s.log.Debug("homography estimated", "stage", StageEstimateHomography, "inliers", res.InlierCount(), "matches", len(matches))

	res.Panorama, err = s.warper.Warp(right, left, h)
	if err != nil {
		s.failed(StageWarpBlend, err)
		return nil, err
	}

	if visualize {
		res.Visualization = DrawMatches(left, right, leftKps, rightKps, matches, inliers)
	}

	s.log.Info("pair stitched",
		"width", res.Panorama.Width,
		"height", res.Panorama.Height,
		"inliers", res.InlierCount(),
		"outliers", len(matches)-res.InlierCount(),
		"duration", time.Since(start))
	return res, nil
}

// extractBoth runs extraction on both images concurrently. When both fail the
// left image's error is reported.
func (s *Stitcher) extractBoth(left, right *imaging.Image) (KeypointSet, KeypointSet, error) {
	var (
		g                 errgroup.Group
		leftKps, rightKps KeypointSet
		leftErr, rightErr error
	)
	g.Go(func() error {
		leftKps, leftErr = s.extractor.Extract(left)
		return leftErr
	})
	g.Go(func() error {
		rightKps, rightErr = s.extractor.Extract(right)
		return rightErr
	})
	_ = g.Wait()

	if leftErr != nil {
		return nil, nil, errors.WithMessage(leftErr, "left image")
	}
	if rightErr != nil {
		return nil, nil, errors.WithMessage(rightErr, "right image")
	}
	return leftKps, rightKps, nil
}

func (s *Stitcher) failed(stage Stage, err error) {
	s.log.Warn("pair stitch failed", "stage", stage, "kind", Kind(err), "error", err.Error())
}

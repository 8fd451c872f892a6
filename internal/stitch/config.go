package stitch

import (
	"fmt"
)

// Detector names accepted by Config.Detector.
const (
	DetectorHarris = "harris"
	DetectorSIFT   = "sift"
)

// Interpolation modes accepted by Config.Interpolation.
const (
	InterpolationBilinear = "bilinear"
	InterpolationNearest  = "nearest"
)

// Config holds every tunable of the stitching core.
type Config struct {
	TargetWidth      int     `json:"target_width"`      // first normalization pass, <= 0 skips it
	TargetHeight     int     `json:"target_height"`     // second normalization pass, <= 0 skips it
	Detector         string  `json:"detector"`          // harris, sift (gocv builds only)
	MaxKeypoints     int     `json:"max_keypoints"`     // per image
	MinKeypoints     int     `json:"min_keypoints"`     // below this extraction fails
	CornerThreshold  float64 `json:"corner_threshold"`  // minimum corner strength on [0,1] intensities
	RatioThreshold   float64 `json:"ratio_threshold"`   // nearest / second nearest descriptor distance
	MinMatches       int     `json:"min_matches"`       // ratio-test survivors required
	ReprojThreshold  float64 `json:"reproj_threshold"`  // RANSAC inlier distance in pixels
	RansacIterations int     `json:"ransac_iterations"` // fixed iteration count
	RansacSeed       int64   `json:"ransac_seed"`       // seed for every estimation
	MinInliers       int     `json:"min_inliers"`       // absolute inlier floor
	MinInlierRatio   float64 `json:"min_inlier_ratio"`  // inliers / matches floor
	Interpolation    string  `json:"interpolation"`     // bilinear, nearest
	MaxCanvasPixels  int     `json:"max_canvas_pixels"` // larger canvases are rejected
}

// DefaultConfig returns the settings the original service shipped with.
func DefaultConfig() Config {
	return Config{
		TargetWidth:      800,
		TargetHeight:     800,
		Detector:         DetectorHarris,
		MaxKeypoints:     1000,
		MinKeypoints:     4,
		CornerThreshold:  1e-4,
		RatioThreshold:   0.75,
		MinMatches:       4,
		ReprojThreshold:  4.0,
		RansacIterations: 2000,
		RansacSeed:       1,
		MinInliers:       10,
		MinInlierRatio:   0,
		Interpolation:    InterpolationBilinear,
		MaxCanvasPixels:  100_000_000,
	}
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MinKeypoints < 4:
		return fmt.Errorf("min_keypoints must be at least 4, got %d", c.MinKeypoints)
	case c.MaxKeypoints < c.MinKeypoints:
		return fmt.Errorf("max_keypoints (%d) must not be below min_keypoints (%d)", c.MaxKeypoints, c.MinKeypoints)
	case c.MinMatches < 4:
		return fmt.Errorf("min_matches must be at least 4, got %d", c.MinMatches)
	case c.RatioThreshold <= 0 || c.RatioThreshold > 1:
		return fmt.Errorf("ratio_threshold must be in (0, 1], got %g", c.RatioThreshold)
	case c.ReprojThreshold <= 0:
		return fmt.Errorf("reproj_threshold must be positive, got %g", c.ReprojThreshold)
	case c.RansacIterations < 1:
		return fmt.Errorf("ransac_iterations must be positive, got %d", c.RansacIterations)
	case c.MinInliers < 4:
		return fmt.Errorf("min_inliers must be at least 4, got %d", c.MinInliers)
	case c.MinInlierRatio < 0 || c.MinInlierRatio > 1:
		return fmt.Errorf("min_inlier_ratio must be in [0, 1], got %g", c.MinInlierRatio)
	case c.MaxCanvasPixels <= 0:
		return fmt.Errorf("max_canvas_pixels must be positive, got %d", c.MaxCanvasPixels)
	}
	switch c.Detector {
	case "", DetectorHarris, DetectorSIFT:
	default:
		return fmt.Errorf("unknown detector %q", c.Detector)
	}
	switch c.Interpolation {
	case "", InterpolationBilinear, InterpolationNearest:
	default:
		return fmt.Errorf("unknown interpolation %q", c.Interpolation)
	}
	return nil
}

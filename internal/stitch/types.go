package stitch

import (
	"github.com/golang/geo/r2"

	"panoramer/internal/imaging"
)

// Keypoint is a detected interest point in pixel coordinates.
type Keypoint struct {
	Point      r2.Point
	Response   float64
	Angle      float64 // dominant gradient orientation, radians
	Descriptor []float64
}

// KeypointSet is the ordered output of one extraction. Matches refer to
// keypoints by their index in this slice.
type KeypointSet []Keypoint

// Points returns the keypoint locations in order.
func (s KeypointSet) Points() []r2.Point {
	out := make([]r2.Point, len(s))
	for i, k := range s {
		out[i] = k.Point
	}
	return out
}

// Match pairs a keypoint of the source image with one of the destination
// image. The homography maps source onto destination.
type Match struct {
	SrcIndex int
	DstIndex int
	Distance float64
}

// Correspondences resolves matches into aligned point slices.
func Correspondences(matches []Match, src, dst KeypointSet) ([]r2.Point, []r2.Point) {
	sp := make([]r2.Point, len(matches))
	dp := make([]r2.Point, len(matches))
	for i, m := range matches {
		sp[i] = src[m.SrcIndex].Point
		dp[i] = dst[m.DstIndex].Point
	}
	return sp, dp
}

// FeatureExtractor detects keypoints and computes their descriptors.
type FeatureExtractor interface {
	Extract(img *imaging.Image) (KeypointSet, error)
}

// StitchResult is the outcome of one pairwise stitch. The left image is the
// destination, the right image is warped onto it.
type StitchResult struct {
	Panorama      *imaging.Image
	Visualization *imaging.Image // nil unless requested
	Homography    Homography
	Left          KeypointSet
	Right         KeypointSet
	Matches       []Match // SrcIndex into Right, DstIndex into Left
	Inliers       []bool  // parallel to Matches
}

// InlierCount returns the number of matches consistent with the homography.
func (r *StitchResult) InlierCount() int {
	n := 0
	for _, in := range r.Inliers {
		if in {
			n++
		}
	}
	return n
}

// RunningPanorama marks the right operand of a fold step that is the
// accumulated panorama instead of an input image.
const RunningPanorama = -1

// StepReport describes one fold step of the orchestrator.
type StepReport struct {
	Step       int // 1-based
	LeftIndex  int
	RightIndex int // RunningPanorama after the first step
	Left       *imaging.Image
	Right      *imaging.Image
	Result     *StitchResult
}

// StepSummary is the serializable part of a StepReport.
type StepSummary struct {
	Step       int `json:"step"`
	LeftIndex  int `json:"left_index"`
	RightIndex int `json:"right_index"`
	Keypoints  int `json:"keypoints"`
	Matches    int `json:"matches"`
	Inliers    int `json:"inliers"`
	Width      int `json:"width"`
	Height     int `json:"height"`
}

// Summary strips the images from a step report.
func (r StepReport) Summary() StepSummary {
	s := StepSummary{Step: r.Step, LeftIndex: r.LeftIndex, RightIndex: r.RightIndex}
	if r.Result != nil {
		s.Keypoints = len(r.Result.Left) + len(r.Result.Right)
		s.Matches = len(r.Result.Matches)
		s.Inliers = r.Result.InlierCount()
		if r.Result.Panorama != nil {
			s.Width = r.Result.Panorama.Width
			s.Height = r.Result.Panorama.Height
		}
	}
	return s
}

// Panorama is the orchestrator output.
type Panorama struct {
	Image         *imaging.Image
	Visualization *imaging.Image // final step only, nil unless requested
	Steps         []StepSummary
}

package stitch

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// minSampleArea is twice the smallest triangle area (in px²) a minimal sample
// may span before it is treated as collinear.
const minSampleArea = 1.0

// RansacEstimator fits a homography robust to outlier matches.
type RansacEstimator struct {
	Threshold      float64 // inlier reprojection distance, pixels
	Iterations     int
	Seed           int64
	MinInliers     int
	MinInlierRatio float64
}

// NewRansacEstimator builds an estimator from the core configuration.
func NewRansacEstimator(cfg Config) *RansacEstimator {
	return &RansacEstimator{
		Threshold:      cfg.ReprojThreshold,
		Iterations:     cfg.RansacIterations,
		Seed:           cfg.RansacSeed,
		MinInliers:     cfg.MinInliers,
		MinInlierRatio: cfg.MinInlierRatio,
	}
}

// Estimate returns the homography mapping src onto dst and a mask flagging the
// correspondences within Threshold of it. Each call reseeds its generator, so
// identical input yields identical output.
func (e *RansacEstimator) Estimate(src, dst []r2.Point) (Homography, []bool, error) {
	n := len(src)
	if n != len(dst) {
		return Homography{}, nil, errors.Wrapf(ErrInvalidInput, "%d source points for %d destination points", n, len(dst))
	}
	if n < 4 {
		return Homography{}, nil, errors.Wrapf(ErrInsufficientMatches, "need 4 matches, have %d", n)
	}

	rng := rand.New(rand.NewSource(e.Seed))
	var (
		best      Homography
		bestMask  []bool
		bestCount int
		sampleSrc = make([]r2.Point, 4)
		sampleDst = make([]r2.Point, 4)
	)
	for it := 0; it < e.Iterations; it++ {
		idx := rng.Perm(n)[:4]
		for i, j := range idx {
			sampleSrc[i] = src[j]
			sampleDst[i] = dst[j]
		}
		if collinear(sampleSrc) || collinear(sampleDst) {
			continue
		}
		h, err := FitHomography(sampleSrc, sampleDst)
		if err != nil || !h.Valid() {
			continue
		}
		mask, count := e.classify(h, src, dst)
		// strictly greater: the first candidate reaching a count keeps it
		if count > bestCount {
			best, bestMask, bestCount = h, mask, count
		}
	}

	need := e.MinInliers
	if r := int(math.Ceil(e.MinInlierRatio * float64(n))); r > need {
		need = r
	}
	if bestCount < 4 || bestCount < need {
		return Homography{}, nil, errors.Wrapf(ErrDegenerateHomography, "best model supports %d of %d matches, need %d", bestCount, n, need)
	}

	// refit on the consensus set and keep it unless it loses support
	var inSrc, inDst []r2.Point
	for i, in := range bestMask {
		if in {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if h, err := FitHomography(inSrc, inDst); err == nil && h.Valid() {
		if mask, count := e.classify(h, src, dst); count >= bestCount {
			best, bestMask, bestCount = h, mask, count
		}
	}

	if !best.Valid() {
		return Homography{}, nil, errors.Wrap(ErrDegenerateHomography, "estimated transform is not invertible")
	}
	return best, bestMask, nil
}

func (e *RansacEstimator) classify(h Homography, src, dst []r2.Point) ([]bool, int) {
	mask := make([]bool, len(src))
	count := 0
	for i := range src {
		if ReprojectionError(h, src[i], dst[i]) <= e.Threshold {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// ReprojectionError is the Euclidean distance between h(src) and dst.
func ReprojectionError(h Homography, src, dst r2.Point) float64 {
	p, ok := h.Apply(src)
	if !ok {
		return math.Inf(1)
	}
	return p.Sub(dst).Norm()
}

// collinear reports whether any three of the four points are (nearly) on one
// line.
func collinear(pts []r2.Point) bool {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				if math.Abs(pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))) < minSampleArea {
					return true
				}
			}
		}
	}
	return false
}

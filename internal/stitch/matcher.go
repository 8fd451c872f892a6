package stitch

import (
	"math"

	"github.com/pkg/errors"
)

// RatioMatcher pairs descriptors by exhaustive nearest neighbour search and
// keeps a pair only when the nearest neighbour is clearly closer than the
// second nearest.
type RatioMatcher struct {
	Ratio      float64
	MinMatches int
}

// NewRatioMatcher builds a matcher from the core configuration.
func NewRatioMatcher(cfg Config) *RatioMatcher {
	return &RatioMatcher{Ratio: cfg.RatioThreshold, MinMatches: cfg.MinMatches}
}

// Match returns the surviving matches in source order. Several source
// keypoints may share a destination keypoint.
func (m *RatioMatcher) Match(src, dst KeypointSet) ([]Match, error) {
	if len(dst) < 2 {
		return nil, errors.Wrapf(ErrInsufficientMatches, "destination has %d keypoints, ratio test needs 2", len(dst))
	}

	var out []Match
	for i, s := range src {
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for j, d := range dst {
			dist := descriptorDistance(s.Descriptor, d.Descriptor)
			switch {
			case dist < best:
				second = best
				best, bestIdx = dist, j
			case dist < second:
				second = dist
			}
		}
		if bestIdx >= 0 && best < m.Ratio*second {
			out = append(out, Match{SrcIndex: i, DstIndex: bestIdx, Distance: best})
		}
	}

	if len(out) < m.MinMatches {
		return out, errors.Wrapf(ErrInsufficientMatches, "%d matches survive the ratio test, need %d", len(out), m.MinMatches)
	}
	return out, nil
}

func descriptorDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

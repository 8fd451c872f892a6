package stitch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func kp(desc ...float64) Keypoint {
	return Keypoint{Descriptor: desc}
}

func TestRatioMatcherAppliesRatioTest(t *testing.T) {
	dst := KeypointSet{kp(0, 0), kp(10, 0), kp(0, 10), kp(10, 10)}
	src := KeypointSet{
		kp(1, 0),  // near dst 0, clearly
		kp(5, 0),  // equidistant to dst 0 and 1, ambiguous
		kp(10, 9), // near dst 3
		kp(0, 1),  // near dst 0 again
		kp(9, 1),  // near dst 1
	}
	m := &RatioMatcher{Ratio: 0.75, MinMatches: 4}

	got, err := m.Match(src, dst)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 3, 4}, srcIndices(got))
	require.Equal(t, []int{0, 3, 0, 1}, dstIndices(got))
	require.InDelta(t, 1.0, got[0].Distance, 1e-12)
}

func TestRatioMatcherIsStrict(t *testing.T) {
	// nearest 3, second 4: 3 < 0.75*4 is false
	dst := KeypointSet{kp(3, 0), kp(-4, 0)}
	m := &RatioMatcher{Ratio: 0.75, MinMatches: 1}
	got, err := m.Match(KeypointSet{kp(0, 0)}, dst)
	require.Error(t, err)
	require.Empty(t, got)
}

func TestRatioMatcherInsufficient(t *testing.T) {
	dst := KeypointSet{kp(0, 0), kp(10, 0)}
	src := KeypointSet{kp(0, 1), kp(10, 1), kp(5, 0)}
	_, err := (&RatioMatcher{Ratio: 0.75, MinMatches: 4}).Match(src, dst)
	require.True(t, errors.Is(err, ErrInsufficientMatches))

	_, err = (&RatioMatcher{Ratio: 0.75, MinMatches: 4}).Match(src, KeypointSet{kp(0, 0)})
	require.True(t, errors.Is(err, ErrInsufficientMatches))
}

func srcIndices(ms []Match) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.SrcIndex
	}
	return out
}

func dstIndices(ms []Match) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.DstIndex
	}
	return out
}

package stitch

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"panoramer/internal/synth"
)

func testStitcher(t *testing.T) *Stitcher {
	t.Helper()
	s, err := NewStitcher(DefaultConfig(), nil)
	require.NoError(t, err)
	return s
}

func TestStitchWithItselfIsIdentity(t *testing.T) {
	img := synth.Scene(400, 300, 17)
	res, err := testStitcher(t).Stitch(img, img, true)
	require.NoError(t, err)

	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 399, Y: 0}, {X: 200, Y: 150}, {X: 0, Y: 299}} {
		require.LessOrEqual(t, ReprojectionError(res.Homography, p, p), DefaultConfig().ReprojThreshold)
	}
	require.GreaterOrEqual(t, float64(res.InlierCount()), 0.95*float64(len(res.Matches)))

	require.Equal(t, 400, res.Panorama.Width)
	require.Equal(t, 300, res.Panorama.Height)
	require.Equal(t, img.Pix, res.Panorama.Pix)

	require.NotNil(t, res.Visualization)
	require.Equal(t, 800, res.Visualization.Width)
	require.Equal(t, 300, res.Visualization.Height)
}

func TestStitchRecoversTranslation(t *testing.T) {
	frames, err := synth.Frames(2, 400, 300, 160, 21)
	require.NoError(t, err)

	res, err := testStitcher(t).Stitch(frames[0], frames[1], false)
	require.NoError(t, err)
	require.Nil(t, res.Visualization)
	require.GreaterOrEqual(t, res.InlierCount(), 10)

	for _, p := range []r2.Point{{X: 10, Y: 10}, {X: 150, Y: 200}, {X: 390, Y: 290}} {
		q, ok := res.Homography.Apply(p)
		require.True(t, ok)
		require.InDelta(t, p.X+240, q.X, 1.0)
		require.InDelta(t, p.Y, q.Y, 1.0)
	}
	require.InDelta(t, 640, res.Panorama.Width, 2)
	require.InDelta(t, 300, res.Panorama.Height, 2)

	for i, m := range res.Matches {
		e := ReprojectionError(res.Homography, res.Right[m.SrcIndex].Point, res.Left[m.DstIndex].Point)
		if res.Inliers[i] {
			require.LessOrEqual(t, e, DefaultConfig().ReprojThreshold)
		} else {
			require.Greater(t, e, DefaultConfig().ReprojThreshold)
		}
	}
}

func TestStitchDisjointScenesFails(t *testing.T) {
	a := synth.Scene(400, 300, 1)
	b := synth.Scene(400, 300, 99)
	_, err := testStitcher(t).Stitch(a, b, true)
	require.ErrorIs(t, err, ErrDegenerateHomography)
}

func TestStitchFeaturelessImageFails(t *testing.T) {
	_, err := testStitcher(t).Stitch(synth.Scene(300, 200, 4), synth.Flat(300, 200, 60), false)
	require.True(t, errors.Is(err, ErrInsufficientFeatures), "got %v", err)
	require.Contains(t, err.Error(), "right image")
}

func TestStitchNilImage(t *testing.T) {
	_, err := testStitcher(t).Stitch(nil, synth.Flat(10, 10, 0), false)
	require.Equal(t, "InvalidInput", Kind(err))
}

func TestNewStitcherRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RansacIterations = 0
	_, err := NewStitcher(cfg, nil)
	require.Error(t, err)
}

package stitch

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"panoramer/internal/synth"
)

func testExtractor() *HarrisExtractor {
	cfg := DefaultConfig()
	ex, _ := NewExtractor(cfg)
	return ex.(*HarrisExtractor)
}

func TestExtractFindsSpreadKeypoints(t *testing.T) {
	img := synth.Scene(400, 300, 11)
	kps, err := testExtractor().Extract(img)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(kps), 50)
	require.LessOrEqual(t, len(kps), DefaultConfig().MaxKeypoints)

	var left, right int
	for _, k := range kps {
		require.GreaterOrEqual(t, k.Point.X, float64(keypointMargin))
		require.GreaterOrEqual(t, k.Point.Y, float64(keypointMargin))
		require.Less(t, k.Point.X, float64(img.Width-keypointMargin))
		require.Less(t, k.Point.Y, float64(img.Height-keypointMargin))
		require.Len(t, k.Descriptor, descGrid*descGrid)
		if k.Point.X < 200 {
			left++
		} else {
			right++
		}
	}
	require.Positive(t, left)
	require.Positive(t, right)
}

func TestDescriptorsAreNormalized(t *testing.T) {
	kps, err := testExtractor().Extract(synth.Scene(200, 200, 5))
	require.NoError(t, err)
	for _, k := range kps[:10] {
		var mean, sq float64
		for _, v := range k.Descriptor {
			mean += v
			sq += v * v
		}
		n := float64(len(k.Descriptor))
		require.InDelta(t, 0, mean/n, 1e-9)
		require.InDelta(t, 1, math.Sqrt(sq/n), 1e-9)
	}
}

func TestExtractIsDeterministicAndColorBlind(t *testing.T) {
	img := synth.Scene(300, 200, 2)
	a, err := testExtractor().Extract(img)
	require.NoError(t, err)
	again, err := testExtractor().Extract(img)
	require.NoError(t, err)
	require.Equal(t, a, again)

	// the gray copy differs only by quantization of the luminance
	b, err := testExtractor().Extract(img.Gray())
	require.NoError(t, err)
	seen := make(map[[2]float64]bool, len(a))
	for _, k := range a {
		seen[[2]float64{k.Point.X, k.Point.Y}] = true
	}
	shared := 0
	for _, k := range b {
		if seen[[2]float64{k.Point.X, k.Point.Y}] {
			shared++
		}
	}
	require.GreaterOrEqual(t, float64(shared), 0.8*float64(len(b)))
}

func TestExtractFlatImageFails(t *testing.T) {
	_, err := testExtractor().Extract(synth.Flat(200, 200, 128))
	require.True(t, errors.Is(err, ErrInsufficientFeatures), "got %v", err)

	// too small to hold a single descriptor window
	_, err = testExtractor().Extract(synth.Scene(40, 40, 1))
	require.True(t, errors.Is(err, ErrInsufficientFeatures))
}

func TestUnknownDetector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector = "surf"
	_, err := NewExtractor(cfg)
	require.Error(t, err)
}

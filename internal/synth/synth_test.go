package synth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSceneIsDeterministic(t *testing.T) {
	a := Scene(120, 80, 7)
	b := Scene(120, 80, 7)
	c := Scene(120, 80, 8)
	require.Equal(t, a.Pix, b.Pix)
	require.NotEqual(t, a.Pix, c.Pix)
}

func TestFramesShareOverlap(t *testing.T) {
	frames, err := Frames(3, 100, 50, 40, 3)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	for i := 0; i+1 < len(frames); i++ {
		l, r := frames[i], frames[i+1]
		for y := 0; y < l.Height; y++ {
			got := r.Pix[r.Offset(0, y):r.Offset(40, y)]
			want := l.Pix[l.Offset(60, y):l.Offset(100, y)]
			require.Equal(t, want, got, "row %d of frames %d/%d", y, i, i+1)
		}
	}
}

func TestCropBounds(t *testing.T) {
	s := Scene(50, 50, 1)
	_, err := Crop(s, 40, 0, 20, 10)
	require.Error(t, err)

	c, err := Crop(s, 10, 5, 20, 10)
	require.NoError(t, err)
	require.Equal(t, s.Pix[s.Offset(10, 5):s.Offset(11, 5)], c.Pix[0:3])
}

func TestFramesRejectsBadLayout(t *testing.T) {
	_, err := Frames(2, 100, 50, 100, 1)
	require.Error(t, err)
}

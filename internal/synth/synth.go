// Package synth renders deterministic textured scenes and cuts overlapping
// frames from them. Tests and the benchmark command use it in place of
// photographs.
package synth

import (
	"fmt"
	"math/rand"

	"panoramer/internal/imaging"
)

// Scene renders a width x height RGB image covered with random overlapping
// rectangles. The same seed always yields the same pixels.
func Scene(width, height int, seed int64) *imaging.Image {
	m, err := imaging.New(width, height, 3)
	if err != nil {
		panic(err)
	}
	rng := rand.New(rand.NewSource(seed))

	base := [3]uint8{uint8(90 + rng.Intn(60)), uint8(90 + rng.Intn(60)), uint8(90 + rng.Intn(60))}
	for i := 0; i < width*height; i++ {
		copy(m.Pix[i*3:i*3+3], base[:])
	}

	count := width * height / 500
	for i := 0; i < count; i++ {
		rw, rh := 8+rng.Intn(33), 8+rng.Intn(33)
		x0, y0 := rng.Intn(width), rng.Intn(height)
		c := [3]uint8{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256))}
		for y := y0; y < min(y0+rh, height); y++ {
			for x := x0; x < min(x0+rw, width); x++ {
				copy(m.Pix[m.Offset(x, y):], c[:])
			}
		}
	}
	return m
}

// Crop copies the w x h window at (x, y).
func Crop(m *imaging.Image, x, y, w, h int) (*imaging.Image, error) {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > m.Width || y+h > m.Height {
		return nil, fmt.Errorf("crop %dx%d+%d+%d outside %dx%d", w, h, x, y, m.Width, m.Height)
	}
	out, err := imaging.New(w, h, m.Channels)
	if err != nil {
		return nil, err
	}
	rowLen := w * m.Channels
	for r := 0; r < h; r++ {
		copy(out.Pix[r*rowLen:(r+1)*rowLen], m.Pix[m.Offset(x, y+r):])
	}
	return out, nil
}

// Frames cuts n frames of frameW x frameH from left to right, consecutive
// frames sharing overlap pixels. The scene is sized to fit exactly.
func Frames(n, frameW, frameH, overlap int, seed int64) ([]*imaging.Image, error) {
	if n < 1 || overlap < 0 || overlap >= frameW {
		return nil, fmt.Errorf("invalid frame layout: n=%d width=%d overlap=%d", n, frameW, overlap)
	}
	step := frameW - overlap
	scene := Scene(frameW+(n-1)*step, frameH, seed)
	out := make([]*imaging.Image, n)
	for i := range out {
		f, err := Crop(scene, i*step, 0, frameW, frameH)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// Flat returns a uniform image without any features.
func Flat(width, height int, value uint8) *imaging.Image {
	m, err := imaging.New(width, height, 3)
	if err != nil {
		panic(err)
	}
	for i := range m.Pix {
		m.Pix[i] = value
	}
	return m
}

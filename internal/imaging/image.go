package imaging

import (
	"fmt"
	"image"
	"image/color"
)

// Image is a dense row-major pixel grid. Channels is 1 (gray) or 3 (RGB).
// Stages never mutate an Image they received; they allocate a new one.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a black image.
func New(width, height, channels int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// Offset returns the index of the first channel of pixel (x, y).
func (m *Image) Offset(x, y int) int {
	return (y*m.Width + x) * m.Channels
}

// Contains reports whether (x, y) is a pixel of m.
func (m *Image) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Width: m.Width, Height: m.Height, Channels: m.Channels, Pix: pix}
}

// Bounds returns the image rectangle anchored at the origin.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Luminance returns a float plane in [0, 1] using Rec. 601 weights.
func (m *Image) Luminance() []float64 {
	out := make([]float64, m.Width*m.Height)
	if m.Channels == 1 {
		for i, v := range m.Pix {
			out[i] = float64(v) / 255
		}
		return out
	}
	for i := range out {
		p := m.Pix[i*3 : i*3+3]
		out[i] = (0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])) / 255
	}
	return out
}

// Gray converts m to a single channel image. A gray input is cloned.
func (m *Image) Gray() *Image {
	if m.Channels == 1 {
		return m.Clone()
	}
	out := &Image{Width: m.Width, Height: m.Height, Channels: 1, Pix: make([]uint8, m.Width*m.Height)}
	for i, v := range m.Luminance() {
		out.Pix[i] = clamp8(v * 255)
	}
	return out
}

// RGB converts m to three channels. A color input is cloned.
func (m *Image) RGB() *Image {
	if m.Channels == 3 {
		return m.Clone()
	}
	out := &Image{Width: m.Width, Height: m.Height, Channels: 3, Pix: make([]uint8, m.Width*m.Height*3)}
	for i, v := range m.Pix {
		out.Pix[i*3] = v
		out.Pix[i*3+1] = v
		out.Pix[i*3+2] = v
	}
	return out
}

// FromStd copies a standard library image. Gray sources stay single channel,
// everything else becomes RGB with alpha dropped.
func FromStd(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch s := src.(type) {
	case *image.Gray:
		out := &Image{Width: w, Height: h, Channels: 1, Pix: make([]uint8, w*h)}
		for y := 0; y < h; y++ {
			row := s.Pix[(y)*s.Stride : y*s.Stride+w]
			copy(out.Pix[y*w:(y+1)*w], row)
		}
		return out
	case *image.RGBA:
		out := &Image{Width: w, Height: h, Channels: 3, Pix: make([]uint8, w*h*3)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				si := y*s.Stride + x*4
				di := (y*w + x) * 3
				out.Pix[di] = s.Pix[si]
				out.Pix[di+1] = s.Pix[si+1]
				out.Pix[di+2] = s.Pix[si+2]
			}
		}
		return out
	}

	out := &Image{Width: w, Height: h, Channels: 3, Pix: make([]uint8, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			di := (y*w + x) * 3
			out.Pix[di] = c.R
			out.Pix[di+1] = c.G
			out.Pix[di+2] = c.B
		}
	}
	return out
}

// ToStd returns an *image.Gray or an opaque *image.RGBA holding a copy of m.
func (m *Image) ToStd() image.Image {
	if m.Channels == 1 {
		g := image.NewGray(m.Bounds())
		copy(g.Pix, m.Pix)
		return g
	}
	rgba := image.NewRGBA(m.Bounds())
	for i := 0; i < m.Width*m.Height; i++ {
		rgba.Pix[i*4] = m.Pix[i*3]
		rgba.Pix[i*4+1] = m.Pix[i*3+1]
		rgba.Pix[i*4+2] = m.Pix[i*3+2]
		rgba.Pix[i*4+3] = 0xff
	}
	return rgba
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

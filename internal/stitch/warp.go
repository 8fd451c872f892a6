package stitch

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"panoramer/internal/imaging"
)

// maxCanvasSide bounds either canvas dimension regardless of the pixel limit.
const maxCanvasSide = 32768

// snapEpsilon absorbs floating point noise around integral corner positions.
const snapEpsilon = 1e-6

// Warper composites a source image onto the plane of a destination image.
type Warper struct {
	Interpolation   string
	MaxCanvasPixels int
}

// NewWarper builds a warper from the core configuration.
func NewWarper(cfg Config) *Warper {
	return &Warper{Interpolation: cfg.Interpolation, MaxCanvasPixels: cfg.MaxCanvasPixels}
}

// Warp projects src through h (src -> dst) onto a canvas covering the union
// of both images. Destination pixels take precedence where they overlap and
// canvas pixels covered by neither image stay black.
func (wp *Warper) Warp(src, dst *imaging.Image, h Homography) (*imaging.Image, error) {
	if src == nil || dst == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil image")
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, errors.Wrap(ErrCompositingFailure, "homography is not invertible")
	}

	sw, sh := float64(src.Width-1), float64(src.Height-1)
	corners := []r2.Point{{X: 0, Y: 0}, {X: sw, Y: 0}, {X: sw, Y: sh}, {X: 0, Y: sh}}
	rect := r2.EmptyRect()
	for _, c := range corners {
		p, w := h.Project(c)
		if w <= 0 || math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, errors.Wrapf(ErrCompositingFailure, "source corner (%g, %g) projects behind the camera", c.X, c.Y)
		}
		rect = rect.AddPoint(r2.Point{X: snap(p.X), Y: snap(p.Y)})
	}

	projMinX, projMinY := int(math.Floor(rect.X.Lo)), int(math.Floor(rect.Y.Lo))
	projMaxX, projMaxY := int(math.Ceil(rect.X.Hi)), int(math.Ceil(rect.Y.Hi))
	if math.Max(math.Abs(rect.X.Lo), math.Abs(rect.X.Hi)) > maxCanvasSide ||
		math.Max(math.Abs(rect.Y.Lo), math.Abs(rect.Y.Hi)) > maxCanvasSide {
		return nil, errors.Wrap(ErrCompositingFailure, "projected source exceeds canvas limits")
	}

	minX, minY := min(0, projMinX), min(0, projMinY)
	maxX, maxY := max(dst.Width-1, projMaxX), max(dst.Height-1, projMaxY)
	width, height := maxX-minX+1, maxY-minY+1
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrCompositingFailure, "empty canvas %dx%d", width, height)
	}
	if width > maxCanvasSide || height > maxCanvasSide || width*height > wp.MaxCanvasPixels {
		return nil, errors.Wrapf(ErrCompositingFailure, "canvas %dx%d exceeds limits", width, height)
	}

	channels := max(src.Channels, dst.Channels)
	if src.Channels != channels {
		src = src.RGB()
	}
	if dst.Channels != channels {
		dst = dst.RGB()
	}

	canvas, err := imaging.New(width, height, channels)
	if err != nil {
		return nil, errors.Wrap(ErrCompositingFailure, err.Error())
	}
	offX, offY := -minX, -minY

	sample := wp.sampleBilinear
	if wp.Interpolation == InterpolationNearest {
		sample = wp.sampleNearest
	}
	for y := max(projMinY, minY); y <= min(projMaxY, maxY); y++ {
		for x := max(projMinX, minX); x <= min(projMaxX, maxX); x++ {
			if dst.Contains(x, y) {
				continue
			}
			s, ok := inv.Apply(r2.Point{X: float64(x), Y: float64(y)})
			if !ok || s.X < -snapEpsilon || s.Y < -snapEpsilon || s.X > sw+snapEpsilon || s.Y > sh+snapEpsilon {
				continue
			}
			o := canvas.Offset(x+offX, y+offY)
			sample(src, s, canvas.Pix[o:o+channels])
		}
	}

	for y := 0; y < dst.Height; y++ {
		row := dst.Pix[dst.Offset(0, y):dst.Offset(0, y+1)]
		copy(canvas.Pix[canvas.Offset(offX, y+offY):], row)
	}
	return canvas, nil
}

func (wp *Warper) sampleNearest(m *imaging.Image, p r2.Point, out []uint8) {
	x := min(max(int(math.Round(p.X)), 0), m.Width-1)
	y := min(max(int(math.Round(p.Y)), 0), m.Height-1)
	o := m.Offset(x, y)
	copy(out, m.Pix[o:o+m.Channels])
}

func (wp *Warper) sampleBilinear(m *imaging.Image, p r2.Point, out []uint8) {
	px := math.Max(0, math.Min(p.X, float64(m.Width-1)))
	py := math.Max(0, math.Min(p.Y, float64(m.Height-1)))
	x0, y0 := int(px), int(py)
	x1, y1 := min(x0+1, m.Width-1), min(y0+1, m.Height-1)
	fx, fy := px-float64(x0), py-float64(y0)

	o00, o10 := m.Offset(x0, y0), m.Offset(x1, y0)
	o01, o11 := m.Offset(x0, y1), m.Offset(x1, y1)
	for c := 0; c < m.Channels; c++ {
		top := float64(m.Pix[o00+c])*(1-fx) + float64(m.Pix[o10+c])*fx
		bot := float64(m.Pix[o01+c])*(1-fx) + float64(m.Pix[o11+c])*fx
		v := top*(1-fy) + bot*fy
		out[c] = uint8(math.Min(255, v+0.5))
	}
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

package stitch

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"panoramer/internal/imaging"
)

// Descriptor geometry: an 8x8 grid sampled every descSpacing pixels from a
// blurred copy of the image, rotated to the keypoint orientation.
const (
	descGrid     = 8
	descSpacing  = 5.0
	descBlur     = 2.5
	derivBlur    = 1.0
	tensorBlur   = 1.5
	orientRadius = 8
	orientSigma  = 4.5
	anmsRobust   = 0.9
	flatPatchStd = 1e-4
)

// keypointMargin keeps every rotated descriptor sample inside the image.
var keypointMargin = int(math.Ceil(descSpacing*descGrid/2*math.Sqrt2)) + 2

// HarrisExtractor detects Förstner-Harris corners, spreads them with adaptive
// non-maximal suppression and describes each with a bias/gain normalized
// oriented patch.
type HarrisExtractor struct {
	MaxKeypoints    int
	MinKeypoints    int
	CornerThreshold float64
}

// NewExtractor returns the extractor named by cfg.Detector.
func NewExtractor(cfg Config) (FeatureExtractor, error) {
	switch cfg.Detector {
	case "", DetectorHarris:
		return &HarrisExtractor{
			MaxKeypoints:    cfg.MaxKeypoints,
			MinKeypoints:    cfg.MinKeypoints,
			CornerThreshold: cfg.CornerThreshold,
		}, nil
	case DetectorSIFT:
		return newSIFTExtractor(cfg)
	default:
		return nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}

type corner struct {
	x, y int
	resp float64
}

// Extract implements FeatureExtractor.
func (e *HarrisExtractor) Extract(img *imaging.Image) (KeypointSet, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty image")
	}
	w, h := img.Width, img.Height
	lum := img.Luminance()

	response := cornerResponse(lum, w, h)
	corners := e.localMaxima(response, w, h)
	corners = suppress(corners, e.candidateCap())

	patch := gaussianBlur(lum, w, h, descBlur)
	gx, gy := gradients(patch, w, h)

	kps := make(KeypointSet, 0, e.MaxKeypoints)
	for _, c := range corners {
		if len(kps) >= e.MaxKeypoints {
			break
		}
		angle := orientation(gx, gy, w, c.x, c.y)
		desc, ok := describe(patch, w, h, float64(c.x), float64(c.y), angle)
		if !ok {
			continue
		}
		kps = append(kps, Keypoint{
			Point:      r2.Point{X: float64(c.x), Y: float64(c.y)},
			Response:   c.resp,
			Angle:      angle,
			Descriptor: desc,
		})
	}

	if len(kps) < e.MinKeypoints {
		return nil, errors.Wrapf(ErrInsufficientFeatures, "%d keypoints in %dx%d image, need %d", len(kps), w, h, e.MinKeypoints)
	}
	return kps, nil
}

func (e *HarrisExtractor) candidateCap() int {
	return 4 * e.MaxKeypoints
}

// cornerResponse computes the harmonic mean corner strength det(M)/tr(M) of
// the smoothed structure tensor.
func cornerResponse(lum []float64, w, h int) []float64 {
	smooth := gaussianBlur(lum, w, h, derivBlur)
	gx, gy := gradients(smooth, w, h)

	n := w * h
	ixx := make([]float64, n)
	iyy := make([]float64, n)
	ixy := make([]float64, n)
	for i := 0; i < n; i++ {
		ixx[i] = gx[i] * gx[i]
		iyy[i] = gy[i] * gy[i]
		ixy[i] = gx[i] * gy[i]
	}
	ixx = gaussianBlur(ixx, w, h, tensorBlur)
	iyy = gaussianBlur(iyy, w, h, tensorBlur)
	ixy = gaussianBlur(ixy, w, h, tensorBlur)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := ixx[i] + iyy[i]
		if tr < 1e-12 {
			continue
		}
		out[i] = (ixx[i]*iyy[i] - ixy[i]*ixy[i]) / tr
	}
	return out
}

// localMaxima returns thresholded 3x3 maxima away from the border, sorted by
// descending response. On a plateau the first pixel in raster order wins.
func (e *HarrisExtractor) localMaxima(r []float64, w, h int) []corner {
	var out []corner
	m := keypointMargin
	for y := m; y < h-m; y++ {
		for x := m; x < w-m; x++ {
			v := r[y*w+x]
			if v <= e.CornerThreshold {
				continue
			}
			if isLocalMax(r, w, x, y, v) {
				out = append(out, corner{x: x, y: y, resp: v})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].resp > out[j].resp })
	return out
}

func isLocalMax(r []float64, w, x, y int, v float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := r[(y+dy)*w+x+dx]
			earlier := dy < 0 || (dy == 0 && dx < 0)
			if earlier && n >= v || !earlier && n > v {
				return false
			}
		}
	}
	return true
}

// suppress orders corners by their suppression radius: the distance to the
// nearest corner that is clearly stronger. Only the strongest limit corners
// are considered.
func suppress(cs []corner, limit int) []corner {
	if len(cs) > limit {
		cs = cs[:limit]
	}
	radius := make([]float64, len(cs))
	for i := range cs {
		r := math.Inf(1)
		for j := 0; j < i; j++ {
			if cs[i].resp < anmsRobust*cs[j].resp {
				dx := float64(cs[i].x - cs[j].x)
				dy := float64(cs[i].y - cs[j].y)
				if d := dx*dx + dy*dy; d < r {
					r = d
				}
			}
		}
		radius[i] = r
	}

	order := make([]int, len(cs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return radius[order[a]] > radius[order[b]] })

	out := make([]corner, len(cs))
	for i, j := range order {
		out[i] = cs[j]
	}
	return out
}

// orientation is the angle of the Gaussian weighted mean gradient around
// (x, y).
func orientation(gx, gy []float64, w, x, y int) float64 {
	var sx, sy float64
	for dy := -orientRadius; dy <= orientRadius; dy++ {
		for dx := -orientRadius; dx <= orientRadius; dx++ {
			wt := math.Exp(-float64(dx*dx+dy*dy) / (2 * orientSigma * orientSigma))
			i := (y+dy)*w + x + dx
			sx += wt * gx[i]
			sy += wt * gy[i]
		}
	}
	if math.Hypot(sx, sy) < 1e-10 {
		return 0
	}
	return math.Atan2(sy, sx)
}

// describe samples the oriented patch and normalizes it to zero mean and unit
// variance. Flat patches carry no information and are rejected.
func describe(patch []float64, w, h int, x, y, angle float64) ([]float64, bool) {
	cos, sin := math.Cos(angle), math.Sin(angle)
	desc := make([]float64, descGrid*descGrid)
	var mean float64
	for i := 0; i < descGrid; i++ {
		for j := 0; j < descGrid; j++ {
			u := (float64(j) - (descGrid-1)/2.0) * descSpacing
			v := (float64(i) - (descGrid-1)/2.0) * descSpacing
			s := bilinear(patch, w, h, x+u*cos-v*sin, y+u*sin+v*cos)
			desc[i*descGrid+j] = s
			mean += s
		}
	}
	mean /= float64(len(desc))

	var variance float64
	for _, s := range desc {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(desc)))
	if std < flatPatchStd {
		return nil, false
	}
	for i := range desc {
		desc[i] = (desc[i] - mean) / std
	}
	return desc, true
}

func bilinear(p []float64, w, h int, x, y float64) float64 {
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)
	top := p[y0*w+x0]*(1-fx) + p[y0*w+x1]*fx
	bot := p[y1*w+x0]*(1-fx) + p[y1*w+x1]*fx
	return top*(1-fy) + bot*fy
}

// gradients returns central differences with clamped borders.
func gradients(p []float64, w, h int) ([]float64, []float64) {
	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	for y := 0; y < h; y++ {
		up, down := max(y-1, 0), min(y+1, h-1)
		for x := 0; x < w; x++ {
			left, right := max(x-1, 0), min(x+1, w-1)
			gx[y*w+x] = (p[y*w+right] - p[y*w+left]) / 2
			gy[y*w+x] = (p[down*w+x] - p[up*w+x]) / 2
		}
	}
	return gx, gy
}

func gaussianKernel(sigma float64) []float64 {
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	var sum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur is a separable blur with clamp-to-edge borders.
func gaussianBlur(p []float64, w, h int, sigma float64) []float64 {
	k := gaussianKernel(sigma)
	r := len(k) / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := p[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var s float64
			for i, kv := range k {
				xx := min(max(x+i-r, 0), w-1)
				s += kv * row[xx]
			}
			tmp[y*w+x] = s
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i, kv := range k {
				yy := min(max(y+i-r, 0), h-1)
				s += kv * tmp[yy*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}

package stitch

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minDeterminant is the smallest |det H| (with H[8] = 1) accepted as
// invertible.
const minDeterminant = 1e-8

// Homography is a row-major 3x3 projective transform mapping source pixel
// coordinates to destination pixel coordinates.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Translation returns a transform shifting points by (dx, dy).
func Translation(dx, dy float64) Homography {
	return Homography{1, 0, dx, 0, 1, dy, 0, 0, 1}
}

// Project maps p and returns the homogeneous scale w alongside it.
func (h Homography) Project(p r2.Point) (r2.Point, float64) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	x := h[0]*p.X + h[1]*p.Y + h[2]
	y := h[3]*p.X + h[4]*p.Y + h[5]
	if math.Abs(w) < 1e-12 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}, w
	}
	return r2.Point{X: x / w, Y: y / w}, w
}

// Apply maps p; ok is false when p lands on the line at infinity.
func (h Homography) Apply(p r2.Point) (r2.Point, bool) {
	q, w := h.Project(p)
	return q, math.Abs(w) >= 1e-12
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return mat.Det(h.dense())
}

// Inverse returns the normalized inverse transform.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return Homography{}, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	return fromDense(&inv)
}

// Mul returns h·o, the transform applying o first.
func (h Homography) Mul(o Homography) Homography {
	var out mat.Dense
	out.Mul(h.dense(), o.dense())
	var r Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = out.At(i, j)
		}
	}
	return r
}

// Valid reports whether h is finite, normalizable and invertible.
func (h Homography) Valid() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if math.Abs(h[8]) < 1e-12 {
		return false
	}
	n := h.normalized()
	return math.Abs(n.Det()) >= minDeterminant
}

func (h Homography) normalized() Homography {
	s := h[8]
	for i := range h {
		h[i] /= s
	}
	return h
}

func (h Homography) dense() *mat.Dense {
	d := make([]float64, 9)
	copy(d, h[:])
	return mat.NewDense(3, 3, d)
}

func fromDense(m mat.Matrix) (Homography, error) {
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i*3+j] = m.At(i, j)
		}
	}
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, errors.Wrap(ErrDegenerateHomography, "h33 vanishes")
	}
	return h.normalized(), nil
}

// normalization returns the similarity moving pts to zero centroid and mean
// distance sqrt(2) from the origin, and its inverse.
func normalization(pts []r2.Point) (t, inv Homography, err error) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	var mean float64
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return t, inv, errors.Wrap(ErrDegenerateHomography, "coincident points")
	}

	s := math.Sqrt2 / mean
	t = Homography{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}
	inv = Homography{1 / s, 0, c.X, 0, 1 / s, c.Y, 0, 0, 1}
	return t, inv, nil
}

// FitHomography solves the normalized direct linear transform for src -> dst.
// With exactly four points the fit is exact; with more it is the algebraic
// least squares solution.
func FitHomography(src, dst []r2.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, errors.Wrapf(ErrInvalidInput, "%d source points for %d destination points", len(src), len(dst))
	}
	if len(src) < 4 {
		return Homography{}, errors.Wrapf(ErrInsufficientMatches, "need 4 correspondences, have %d", len(src))
	}

	t1, _, err := normalization(src)
	if err != nil {
		return Homography{}, err
	}
	t2, t2inv, err := normalization(dst)
	if err != nil {
		return Homography{}, err
	}

	rows := 2 * len(src)
	if rows < 9 {
		// zero padding keeps the null vector in the last column of V
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range src {
		p, _ := t1.Apply(src[i])
		q, _ := t2.Apply(dst[i])
		a.SetRow(2*i, []float64{p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, p.X, p.Y, 1, -q.Y * p.X, -q.Y * p.Y, -q.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.Wrap(ErrDegenerateHomography, "svd did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	col := v.ColView(8)

	var hn Homography
	for i := range hn {
		hn[i] = col.AtVec(i)
	}

	h := t2inv.Mul(hn).Mul(t1)
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, errors.Wrap(ErrDegenerateHomography, "h33 vanishes")
	}
	return h.normalized(), nil
}

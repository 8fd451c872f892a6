//go:build gocv

package stitch

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"panoramer/internal/imaging"
)

// siftExtractor delegates detection and description to OpenCV.
type siftExtractor struct {
	maxKeypoints int
	minKeypoints int
}

func newSIFTExtractor(cfg Config) (FeatureExtractor, error) {
	return &siftExtractor{maxKeypoints: cfg.MaxKeypoints, minKeypoints: cfg.MinKeypoints}, nil
}

func (e *siftExtractor) Extract(img *imaging.Image) (KeypointSet, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty image")
	}
	src, err := gocv.ImageToMatRGB(img.RGB().ToStd())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	sift := gocv.NewSIFT()
	defer sift.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := sift.DetectAndCompute(gray, mask)
	defer desc.Close()

	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return kps[order[a]].Response > kps[order[b]].Response })
	if len(order) > e.maxKeypoints {
		order = order[:e.maxKeypoints]
	}

	out := make(KeypointSet, 0, len(order))
	for _, i := range order {
		d := make([]float64, desc.Cols())
		for j := range d {
			d[j] = float64(desc.GetFloatAt(i, j))
		}
		out = append(out, Keypoint{
			Point:      r2.Point{X: kps[i].X, Y: kps[i].Y},
			Response:   kps[i].Response,
			Angle:      kps[i].Angle * math.Pi / 180,
			Descriptor: d,
		})
	}
	if len(out) < e.minKeypoints {
		return nil, errors.Wrapf(ErrInsufficientFeatures, "%d sift keypoints, need %d", len(out), e.minKeypoints)
	}
	return out, nil
}

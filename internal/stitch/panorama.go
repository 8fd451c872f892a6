package stitch

import (
	"log/slog"

	"github.com/pkg/errors"

	"panoramer/internal/imaging"
)

// Panoramer folds an ordered image list into one panorama.
type Panoramer struct {
	cfg      Config
	stitcher PairStitcher
	log      *slog.Logger

	// VisualizeAll requests a match visualization at every fold step instead
	// of only the last one. OnStep sees them.
	VisualizeAll bool
	// OnStep, when set, is called after every successful fold step.
	OnStep func(StepReport)
}

// NewPanoramer returns an orchestrator around stitcher.
func NewPanoramer(cfg Config, stitcher PairStitcher, logger *slog.Logger) *Panoramer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panoramer{cfg: cfg, stitcher: stitcher, log: logger}
}

// Normalize resizes every image to the target width and then to the target
// height, each pass keeping the aspect ratio of its own input.
func (p *Panoramer) Normalize(images []*imaging.Image) []*imaging.Image {
	out := make([]*imaging.Image, len(images))
	for i, img := range images {
		m := imaging.ResizeToWidth(img, p.cfg.TargetWidth)
		out[i] = imaging.ResizeToHeight(m, p.cfg.TargetHeight)
	}
	return out
}

// Build normalizes images and stitches the last two, then folds the remaining
// images in from right to left onto the running panorama. The returned
// visualization, when requested, belongs to the final step.
func (p *Panoramer) Build(images []*imaging.Image, visualize bool) (*Panorama, error) {
	if len(images) < 2 {
		return nil, errors.Wrapf(ErrInvalidInput, "need at least 2 images, got %d", len(images))
	}
	for i, img := range images {
		if img == nil || img.Width <= 0 || img.Height <= 0 {
			return nil, errors.Wrapf(ErrInvalidInput, "image %d is empty", i)
		}
	}

	imgs := p.Normalize(images)
	n := len(imgs)
	pano := &Panorama{}

	left, right := n-2, n-1
	running := imgs[right]
	for step := 1; left >= 0; step++ {
		last := left == 0
		p.log.Debug("fold step", "step", step, "left", left, "right", right)

		res, err := p.stitcher.Stitch(imgs[left], running, visualize && (last || p.VisualizeAll))
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d (image %d)", step, left)
		}

		report := StepReport{
			Step:       step,
			LeftIndex:  left,
			RightIndex: right,
			Left:       imgs[left],
			Right:      running,
			Result:     res,
		}
		pano.Steps = append(pano.Steps, report.Summary())
		if p.OnStep != nil {
			p.OnStep(report)
		}

		running = res.Panorama
		if last {
			pano.Visualization = res.Visualization
		}
		left, right = left-1, RunningPanorama
	}

	pano.Image = running
	return pano, nil
}

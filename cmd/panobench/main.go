// Command panobench times the stitching fold on synthetic overlapping frames.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"panoramer/internal/imaging"
	"panoramer/internal/logging"
	"panoramer/internal/stitch"
	"panoramer/internal/synth"
)

func main() {
	var (
		frames   = flag.Int("frames", 4, "number of frames")
		width    = flag.Int("width", 640, "frame width")
		height   = flag.Int("height", 480, "frame height")
		overlap  = flag.Int("overlap", 240, "horizontal overlap between neighbours in pixels")
		seed     = flag.Int64("seed", 7, "scene seed")
		runs     = flag.Int("runs", 3, "timed repetitions")
		detector = flag.String("detector", stitch.DetectorHarris, "feature detector (harris|sift)")
		out      = flag.String("out", "", "directory for the last panorama and visualization")
		level    = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logging.New(*level, "traditional")
	slog.SetDefault(logger)

	images, err := synth.Frames(*frames, *width, *height, *overlap, *seed)
	if err != nil {
		log.Fatal("Failed to render frames:", err)
	}

	cfg := stitch.DefaultConfig()
	cfg.Detector = *detector
	cfg.TargetWidth, cfg.TargetHeight = *width, *height
	stitcher, err := stitch.NewStitcher(cfg, logger)
	if err != nil {
		log.Fatal("Invalid stitching config:", err)
	}
	p := stitch.NewPanoramer(cfg, stitcher, logger)

	fmt.Printf("Stitching %d frames of %dx%d with %dpx overlap (%s)\n", *frames, *width, *height, *overlap, *detector)

	var (
		pano  *stitch.Panorama
		total time.Duration
		best  = time.Duration(1<<63 - 1)
	)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		pano, err = p.Build(images, true)
		elapsed := time.Since(start)
		if err != nil {
			log.Fatalf("Run %d failed [%s]: %v", i+1, stitch.Kind(err), err)
		}
		total += elapsed
		best = min(best, elapsed)
		fmt.Printf("  run %d: %s\n", i+1, elapsed.Round(time.Millisecond))
	}

	fmt.Printf("Panorama: %dx%d\n", pano.Image.Width, pano.Image.Height)
	for _, s := range pano.Steps {
		fmt.Printf("  step %d: left %d, %d matches, %d inliers, canvas %dx%d\n",
			s.Step, s.LeftIndex, s.Matches, s.Inliers, s.Width, s.Height)
	}
	if *runs > 0 {
		fmt.Printf("Mean %s, best %s\n", (total / time.Duration(*runs)).Round(time.Millisecond), best.Round(time.Millisecond))
	}

	if *out != "" {
		if err := imaging.Save(filepath.Join(*out, "panorama_image.jpg"), pano.Image, 0); err != nil {
			log.Fatal("Failed to save panorama:", err)
		}
		if pano.Visualization != nil {
			if err := imaging.Save(filepath.Join(*out, "matched_points.jpg"), pano.Visualization, 0); err != nil {
				log.Fatal("Failed to save visualization:", err)
			}
		}
		fmt.Printf("Wrote results to %s\n", *out)
	}
}

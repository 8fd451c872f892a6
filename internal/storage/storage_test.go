package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "panoramer.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newStore(t)

	if err := s.RecordJobQueued(JobRecord{ID: "j1", JobType: "stitch", Status: "queued", InputPath: "/in", OutputPath: "/out", OptionsJSON: `{"visualize":true}`}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobResult("j1", "failed", map[string]any{"images": 3}, "step 1: degenerate homography", "DegenerateHomography"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Job("j1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "failed" || rec.ErrorKind != "DegenerateHomography" || rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}

	meta, err := s.JobMeta("j1")
	if err != nil {
		t.Fatal(err)
	}
	if meta["images"] != float64(3) {
		t.Fatalf("unexpected meta %v", meta)
	}

	if _, err := s.Job("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.JobMeta("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentJobsNewestFirst(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordJobQueued(JobRecord{ID: id, JobType: "generate", Status: "queued"}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.RecentJobs(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestStitchSteps(t *testing.T) {
	s := newStore(t)
	steps := []StepRecord{
		{JobID: "j", Step: 2, LeftIndex: 0, RightIndex: -1, Matches: 80, Inliers: 61, Width: 1500, Height: 800},
		{JobID: "j", Step: 1, LeftIndex: 1, RightIndex: 2, Matches: 90, Inliers: 70, Width: 1200, Height: 800},
	}
	for _, st := range steps {
		if err := s.RecordStitchStep(st); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.JobSteps("j")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Step != 1 || got[1].RightIndex != -1 || got[1].Inliers != 61 {
		t.Fatalf("unexpected steps %+v", got)
	}
}

func TestUploadsMetadata(t *testing.T) {
	s := newStore(t)
	if err := s.RecordImageMetadata(ImageMetadata{FilePath: "uploads/2.jpg", Format: "jpeg", Width: 800, Height: 600, SizeBytes: 1234}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordImageMetadata(ImageMetadata{FilePath: "uploads/1.jpg", Format: "jpeg", Width: 640, Height: 480}); err != nil {
		t.Fatal(err)
	}
	ups, err := s.Uploads()
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 2 || ups[0].FilePath != "uploads/1.jpg" {
		t.Fatalf("unexpected uploads %+v", ups)
	}
	if err := s.ClearImageMetadata(); err != nil {
		t.Fatal(err)
	}
	if ups, _ := s.Uploads(); len(ups) != 0 {
		t.Fatalf("uploads not cleared: %+v", ups)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordStitchStep(StepRecord{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecentJobs(1); err == nil {
		t.Fatal("expected error from nil store")
	}
}

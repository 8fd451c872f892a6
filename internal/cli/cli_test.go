package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"panoramer/internal/config"
	"panoramer/internal/pipeline"
	"panoramer/internal/stitch"
	"panoramer/internal/storage"
)

func TestStitchCommandSubmitsJob(t *testing.T) {
	root, fakePipe := newTestRoot(t)

	out, err := execute(root, "stitch", "/photos/pano", "/photos/out", "--quality", "80")
	if err != nil {
		t.Fatalf("stitch failed: %v", err)
	}
	if len(fakePipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
	}
	job := fakePipe.jobs[0]
	if job.Type != pipeline.JobStitch || job.InputPath != "/photos/pano" || job.Output != "/photos/out" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Options["quality"] != 80 {
		t.Fatalf("quality flag not forwarded: %v", job.Options)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "ok: true") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCommandsDefaultToConfiguredPaths(t *testing.T) {
	root, fakePipe := newTestRoot(t)

	if _, err := execute(root, "stitch"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(root, "generate", "--results", "/tmp/results"); err != nil {
		t.Fatal(err)
	}
	if len(fakePipe.jobs) != 2 {
		t.Fatalf("expected two jobs, got %d", len(fakePipe.jobs))
	}
	if fakePipe.jobs[0].InputPath != root.cfg.Paths.UploadDir || fakePipe.jobs[0].Output != root.cfg.Paths.OutputDir {
		t.Fatalf("stitch ignored configured paths: %+v", fakePipe.jobs[0])
	}
	gen := fakePipe.jobs[1]
	if gen.Type != pipeline.JobGenerate || gen.InputPath != root.cfg.Paths.UploadDir || gen.Output != "/tmp/results" {
		t.Fatalf("unexpected generate job %+v", gen)
	}
}

func TestStitchCommandReportsKind(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	fakePipe.err = stitch.ErrInsufficientMatches

	_, err := execute(root, "stitch")
	if !errors.Is(err, stitch.ErrInsufficientMatches) {
		t.Fatalf("expected insufficient matches, got %v", err)
	}
	if !strings.Contains(err.Error(), "InsufficientMatches") {
		t.Fatalf("kind missing from %q", err)
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _ := newTestRoot(t)
	var got serveOptions
	root.serveFn = func(ctx context.Context, r *Root, opts serveOptions) error {
		got = opts
		return nil
	}
	if _, err := execute(root, "serve", "--addr", ":9999", "--grpc-addr", "", "--watch"); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if got.HTTPAddr != ":9999" || got.GRPCAddr != "" || !got.Watch {
		t.Fatalf("unexpected serve options %+v", got)
	}
}

func TestJobsCommand(t *testing.T) {
	root, _ := newTestRoot(t)
	if _, err := execute(root, "jobs"); err == nil {
		t.Fatal("expected error without a store")
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	root.store = store

	_ = store.RecordJobQueued(storage.JobRecord{ID: "stitch-1", JobType: "stitch", Status: "queued"})
	_ = store.RecordJobResult("stitch-1", "failed", nil, "step 2: degenerate", "DegenerateHomography")
	_ = store.RecordStitchStep(storage.StepRecord{JobID: "stitch-1", Step: 1, LeftIndex: 1, RightIndex: 2, Matches: 40, Inliers: 31, Width: 1200, Height: 800})
	_ = store.RecordStitchStep(storage.StepRecord{JobID: "stitch-1", Step: 2, LeftIndex: 0, RightIndex: stitch.RunningPanorama})

	out, err := execute(root, "jobs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "stitch-1") || !strings.Contains(out, "DegenerateHomography") {
		t.Fatalf("unexpected listing %q", out)
	}

	out, err = execute(root, "jobs", "stitch-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1200x800") || !strings.Contains(out, "panorama") {
		t.Fatalf("unexpected job detail %q", out)
	}
}

type fakeRemote struct {
	mode, input string
	closed      bool
}

func (f *fakeRemote) Stitch(ctx context.Context, mode, inputDir, outputDir string) (map[string]any, error) {
	f.mode, f.input = mode, inputDir
	return map[string]any{"job_id": "remote-1", "images": 4.0}, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func TestRemoteCommand(t *testing.T) {
	root, _ := newTestRoot(t)
	remote := &fakeRemote{}
	var dialed string
	root.dialFn = func(addr string) (remoteClient, error) {
		dialed = addr
		return remote, nil
	}

	out, err := execute(root, "remote", "batch-1", "--addr", "pano:50051", "--mode", "generate")
	if err != nil {
		t.Fatal(err)
	}
	if dialed != "pano:50051" || remote.mode != "generate" || remote.input != "batch-1" || !remote.closed {
		t.Fatalf("unexpected remote call: addr=%s %+v", dialed, remote)
	}
	if !strings.Contains(out, "remote-1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigCommands(t *testing.T) {
	root, _ := newTestRoot(t)

	out, err := execute(root, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"ratio_threshold": 0.75`) {
		t.Fatalf("expected stitching config in output, got %q", out)
	}

	if _, err := execute(root, "config", "validate"); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if _, err := execute(root, "config", "init", path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := execute(root, "config", "init", path); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, err := execute(root, "config", "init", path, "--force"); err != nil {
		t.Fatal(err)
	}

	out, err = execute(root, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Panoramer v") {
		t.Fatalf("expected version string, got %q", out)
	}
}

func TestEnqueueAndWaitPropagatesErrors(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	fakePipe.err = context.DeadlineExceeded
	job := pipeline.Job{ID: "err-job", Type: pipeline.JobStitch}
	if _, err := root.enqueueAndWait(context.Background(), job); err == nil {
		t.Fatalf("expected error from pipeline result")
	}
}

func TestWatcherSubmitsConfiguredMode(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	root.cfg.Watch.Mode = "generate"
	dir := t.TempDir()

	w, err := root.newWatcher(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for _, name := range []string{"1.jpg", "2.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	job := fakePipe.waitJob(t)
	cancel()
	<-done

	if job.Type != pipeline.JobGenerate || job.InputPath != dir || job.Options["source"] != "watch" {
		t.Fatalf("unexpected watch job %+v", job)
	}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()

	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.UploadDir = filepath.Join(tmp, "uploads")
	cfg.Paths.OutputDir = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "panoramer.db")
	cfg.Watch.SettleDelay = config.Duration{Duration: 50 * time.Millisecond}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()

	root := &Root{
		pipeline: pipe,
		cfg:      cfg,
		log:      logger,
		serveFn:  defaultServe,
	}
	return root, pipe
}

func execute(root *Root, args ...string) (string, error) {
	cmd := newRootCmd(root)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	err       error
	submitted chan pipeline.Job
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		submitted: make(chan pipeline.Job, 16),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	res := pipeline.Result{Job: job, Error: f.err, Meta: map[string]any{"ok": true}}
	for _, ch := range f.subs {
		select {
		case ch <- res:
		default:
		}
	}
	f.submitted <- job
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) waitJob(t *testing.T) pipeline.Job {
	t.Helper()
	select {
	case job := <-f.submitted:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("no job submitted")
	}
	return pipeline.Job{}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"panoramer/internal/stitch"
)

type funcProcessor func(ctx context.Context, job Job) Result

func (f funcProcessor) Process(ctx context.Context, job Job) Result { return f(ctx, job) }

func TestSubmitAndWaitReturnsOwnResult(t *testing.T) {
	store := testStore(t)
	p := NewWithProcessor(context.Background(), 2, 8, slog.Default(), store, funcProcessor(func(ctx context.Context, job Job) Result {
		if job.InputPath == "bad" {
			return Result{Job: job, Error: errors.Join(errors.New("step 1"), stitch.ErrDegenerateHomography)}
		}
		return Result{Job: job, Meta: map[string]any{"input": job.InputPath}}
	}))
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, in := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(in string) {
			defer wg.Done()
			res, err := p.SubmitAndWait(ctx, Job{Type: JobStitch, InputPath: in})
			if err != nil {
				t.Errorf("submit %s: %v", in, err)
				return
			}
			if res.Meta["input"] != in {
				t.Errorf("expected result for %s, got %v", in, res.Meta)
			}
		}(in)
	}
	wg.Wait()

	res, err := p.SubmitAndWait(ctx, Job{ID: "bad-job", Type: JobStitch, InputPath: "bad"})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Error, stitch.ErrDegenerateHomography) {
		t.Fatalf("expected degenerate homography, got %v", res.Error)
	}

	rec, err := store.Job("bad-job")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "failed" || rec.ErrorKind != "DegenerateHomography" {
		t.Fatalf("unexpected job record %+v", rec)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p := NewWithProcessor(context.Background(), 1, 1, slog.Default(), nil, funcProcessor(func(ctx context.Context, job Job) Result {
		started <- struct{}{}
		<-release
		return Result{Job: job}
	}))
	defer p.Stop()
	defer close(release)

	if err := p.Submit(Job{ID: "1", Type: JobStitch}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := p.Submit(Job{ID: "2", Type: JobStitch}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(Job{ID: "3", Type: JobStitch}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSubmitAndWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := NewWithProcessor(context.Background(), 1, 4, slog.Default(), nil, funcProcessor(func(ctx context.Context, job Job) Result {
		<-release
		return Result{Job: job}
	}))
	defer p.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.SubmitAndWait(ctx, Job{Type: JobGenerate}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubscribersReceiveResults(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, 4, slog.Default(), nil, funcProcessor(func(ctx context.Context, job Job) Result {
		return Result{Job: job}
	}))
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	if err := p.Submit(Job{ID: "watch-1", Type: JobStitch}); err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-ch:
		if res.Job.ID != "watch-1" {
			t.Fatalf("unexpected job %s", res.Job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result broadcast")
	}

	p.Stop()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after Stop")
	}
}

func TestResultJSONCarriesKind(t *testing.T) {
	res := Result{Job: Job{ID: "j", Type: JobStitch}, Error: stitch.ErrInvalidInput}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out["kind"] != "InvalidInput" || out["error"] == "" {
		t.Fatalf("unexpected json %s", b)
	}
	if job, ok := out["job"].(map[string]any); !ok || job["id"] != "j" {
		t.Fatalf("job not embedded: %s", b)
	}
}

func TestNewJobIDPrefix(t *testing.T) {
	id := NewJobID("generate")
	if !strings.HasPrefix(id, "generate-") || len(id) != len("generate-20060102T150405-0000") {
		t.Fatalf("unexpected id %q", id)
	}
}

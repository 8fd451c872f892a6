package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"log/slog"

	"panoramer/internal/config"
	"panoramer/internal/logging"
	"panoramer/internal/stitch"
	"panoramer/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	// JobStitch writes the final panorama and match visualization.
	JobStitch JobType = "stitch"
	// JobGenerate writes the artifacts of every fold step.
	JobGenerate JobType = "generate"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single processing request.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	InputPath string         `json:"input"`
	Output    string         `json:"output"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job            `json:"job"`
	Error error          `json:"-"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// MarshalJSON renders the error as text together with its kind.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Error string `json:"error,omitempty"`
		Kind  string `json:"kind,omitempty"`
	}{alias: alias(r)}
	if r.Error != nil {
		out.Error = r.Error.Error()
		out.Kind = stitch.Kind(r.Error)
	}
	return json.Marshal(out)
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a new Pipeline whose workers stitch with the settings in cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Pipeline {
	return newPipeline(ctx, cfg.Processing.ParallelJobs, cfg.Processing.QueueSize, logger, store, newRouter(logger, store, cfg))
}

// NewWithProcessor creates a Pipeline around a custom Processor.
func NewWithProcessor(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	return newPipeline(ctx, concurrency, queueSize, logger, store, proc)
}

func newPipeline(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// NewJobID returns a sortable, mostly unique job identifier.
func NewJobID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if job.ID == "" {
		job.ID = NewJobID(string(job.Type))
	}
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		_ = p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		})
	}

	select {
	case p.jobs <- job:
		jobsQueued.Inc()
		return nil
	default:
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "rejected", nil, ErrQueueFull.Error(), "")
		}
		return ErrQueueFull
	}
}

// SubmitAndWait submits job and blocks until its result is broadcast or ctx
// ends. The job ID is assigned here when empty.
func (p *Pipeline) SubmitAndWait(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = NewJobID(string(job.Type))
	}
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	if err := p.Submit(job); err != nil {
		return Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Result{Job: job}, ctx.Err()
		case res, ok := <-ch:
			if !ok {
				return Result{Job: job}, errors.New("pipeline stopped")
			}
			if res.Job.ID == job.ID {
				return res, nil
			}
		}
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			jobsQueued.Dec()
			p.run(ctx, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)

	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}
	jobsRunning.Inc()
	res := p.processor.Process(ctx, job)
	jobsRunning.Dec()
	res.Job = job
	duration := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":   job.InputPath,
			"output":  job.Output,
			"options": job.Options,
			"kind":    stitch.Kind(res.Error),
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		_ = p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error), stitch.Kind(res.Error))
	}
	observeJob(job.Type, status, duration)

	p.broadcast(res)
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}

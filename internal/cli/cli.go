package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"panoramer/internal/config"
	"panoramer/internal/grpcserver"
	"panoramer/internal/pipeline"
	"panoramer/internal/server"
	"panoramer/internal/storage"
	"panoramer/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serveOptions struct {
	HTTPAddr string
	GRPCAddr string
	Watch    bool
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	dialFn   func(addr string) (remoteClient, error)
}

type remoteClient interface {
	Stitch(ctx context.Context, mode, inputDir, outputDir string) (map[string]any, error)
	Close() error
}

// NewRoot constructs the shared state behind every command.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		dialFn: func(addr string) (remoteClient, error) {
			c, err := grpcserver.Dial(addr)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// defaultServe runs the HTTP API, the gRPC API and optionally the upload
// watcher until ctx ends or one of them fails.
func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	cfg := *r.cfg
	cfg.Server.HTTPAddr = opts.HTTPAddr
	cfg.Server.GRPCAddr = opts.GRPCAddr

	g, ctx := errgroup.WithContext(ctx)
	httpSrv := server.NewServer(&cfg, r.store, real, r.log)
	g.Go(func() error { return httpSrv.Start(ctx) })

	if cfg.Server.GRPCAddr != "" {
		grpcSrv := grpcserver.NewServer(&cfg, real, r.log)
		g.Go(func() error { return grpcSrv.Start(ctx) })
	}
	if opts.Watch {
		w, err := r.newWatcher(cfg.Paths.UploadDir)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

func (r *Root) newWatcher(dir string) (*tasks.UploadWatcher, error) {
	mode := pipeline.JobType(r.cfg.Watch.Mode)
	if mode == "" {
		mode = pipeline.JobStitch
	}
	return tasks.NewUploadWatcher(dir, r.cfg.Watch.SettleDelay.Duration, r.log, func(ctx context.Context, images []string) {
		job := pipeline.Job{
			ID:        pipeline.NewJobID(string(mode)),
			Type:      mode,
			InputPath: dir,
			Options:   map[string]any{"source": "watch", "images": len(images)},
		}
		if err := r.enqueue(ctx, job); err != nil {
			r.log.Error("failed to queue watched uploads", "dir", dir, "error", err)
		}
	})
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{Job: job}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{Job: job}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// printMeta writes meta as sorted "key: value" lines.
func printMeta(w io.Writer, meta map[string]any) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, meta[k])
	}
}

package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"panoramer/internal/config"
	"panoramer/internal/pipeline"
	"panoramer/internal/stitch"
)

type funcProcessor func(ctx context.Context, job pipeline.Job) pipeline.Result

func (f funcProcessor) Process(ctx context.Context, job pipeline.Job) pipeline.Result {
	return f(ctx, job)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Paths.UploadDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	return cfg
}

func startServer(t *testing.T, proc funcProcessor) *Client {
	return startServerConfig(t, testConfig(t), proc)
}

func startServerConfig(t *testing.T, cfg *config.Config, proc funcProcessor) *Client {
	t.Helper()
	if proc == nil {
		proc = func(ctx context.Context, job pipeline.Job) pipeline.Result { return pipeline.Result{Job: job} }
	}

	pipe := pipeline.NewWithProcessor(context.Background(), 1, 4, slog.Default(), nil, proc)
	t.Cleanup(pipe.Stop)

	srv := NewServer(cfg, pipe, slog.Default())
	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStitchReturnsJobMeta(t *testing.T) {
	cfg := testConfig(t)
	var seen pipeline.Job
	client := startServerConfig(t, cfg, func(ctx context.Context, job pipeline.Job) pipeline.Result {
		seen = job
		return pipeline.Result{Job: job, Meta: map[string]any{
			"results": map[string][]string{"panoramas": {"panorama_1.jpg"}},
			"images":  3,
		}}
	})

	out, err := client.Stitch(testContext(t), "generate", "batch", "run1")
	require.NoError(t, err)
	require.Equal(t, pipeline.JobGenerate, seen.Type)
	require.Equal(t, filepath.Join(cfg.Paths.UploadDir, "batch"), seen.InputPath)
	require.Equal(t, filepath.Join(cfg.ResultsDir(), "run1"), seen.Output)
	require.Equal(t, "generate", out["mode"])
	require.NotEmpty(t, out["job_id"])
	require.Equal(t, float64(3), out["images"])
	require.Equal(t, []any{"panorama_1.jpg"}, out["results"].(map[string]any)["panoramas"])
}

func TestStitchDefaultsToStitchMode(t *testing.T) {
	var seen pipeline.Job
	client := startServer(t, func(ctx context.Context, job pipeline.Job) pipeline.Result {
		seen = job
		return pipeline.Result{Job: job}
	})
	out, err := client.Stitch(testContext(t), "", "", "")
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStitch, seen.Type)
	require.Empty(t, seen.InputPath)
	require.Empty(t, seen.Output)
	require.Equal(t, "stitch", out["mode"])
}

func TestStitchResolvesOutputUnderOutputDir(t *testing.T) {
	cfg := testConfig(t)
	var seen pipeline.Job
	client := startServerConfig(t, cfg, func(ctx context.Context, job pipeline.Job) pipeline.Result {
		seen = job
		return pipeline.Result{Job: job}
	})
	_, err := client.Stitch(testContext(t), "stitch", ".", "pano")
	require.NoError(t, err)
	require.Equal(t, cfg.Paths.UploadDir, seen.InputPath)
	require.Equal(t, filepath.Join(cfg.Paths.OutputDir, "pano"), seen.Output)
}

func TestStitchRejectsDirectoriesOutsideRoots(t *testing.T) {
	victim := t.TempDir()
	precious := filepath.Join(victim, "precious.txt")
	require.NoError(t, os.WriteFile(precious, []byte("keep"), 0o644))

	ran := false
	client := startServer(t, func(ctx context.Context, job pipeline.Job) pipeline.Result {
		ran = true
		return pipeline.Result{Job: job}
	})

	cases := []struct{ input, output string }{
		{"", victim},
		{victim, ""},
		{"", "../../victim"},
		{"../uploads", ""},
	}
	for _, tc := range cases {
		_, err := client.Stitch(testContext(t), "generate", tc.input, tc.output)
		require.Equal(t, codes.InvalidArgument, status.Code(err), "input %q output %q", tc.input, tc.output)
	}
	require.False(t, ran)
	require.FileExists(t, precious)
}

func TestStitchErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{stitch.ErrInvalidInput, codes.InvalidArgument},
		{stitch.ErrInsufficientMatches, codes.FailedPrecondition},
		{stitch.ErrDegenerateHomography, codes.FailedPrecondition},
		{stitch.ErrCompositingFailure, codes.Internal},
	}
	for _, tc := range cases {
		client := startServer(t, func(ctx context.Context, job pipeline.Job) pipeline.Result {
			return pipeline.Result{Job: job, Error: tc.err}
		})
		_, err := client.Stitch(testContext(t), "stitch", "", "")
		require.Equal(t, tc.code, status.Code(err), "error %v", tc.err)
	}

	client := startServer(t, nil)
	_, err := client.Stitch(testContext(t), "timelapse", "", "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHeartbeatAndHealth(t *testing.T) {
	client := startServer(t, nil)
	ctx := testContext(t)

	ts, err := client.Heartbeat(ctx)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), ts.AsTime(), time.Minute)

	resp, err := healthpb.NewHealthClient(client.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

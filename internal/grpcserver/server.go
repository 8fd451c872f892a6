package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"panoramer/internal/config"
	"panoramer/internal/fsutil"
	"panoramer/internal/pipeline"
	"panoramer/internal/stitch"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "panoramer.v1.Stitcher"

// StitcherServer is the server API of panoramer.v1.Stitcher. Requests and
// responses use well-known protobuf types so no generated code is needed.
type StitcherServer interface {
	Stitch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Heartbeat(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
}

var stitcherServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StitcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stitch", Handler: stitchHandler},
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "panoramer/v1/stitcher.proto",
}

func stitchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StitcherServer).Stitch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Stitch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StitcherServer).Stitch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StitcherServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Heartbeat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StitcherServer).Heartbeat(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterStitcherServer registers impl on s.
func RegisterStitcherServer(s grpc.ServiceRegistrar, impl StitcherServer) {
	s.RegisterService(&stitcherServiceDesc, impl)
}

// Server runs stitch jobs submitted over gRPC through the shared pipeline.
type Server struct {
	cfg    *config.Config
	pipe   *pipeline.Pipeline
	log    *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds the gRPC server with health and reflection registered.
func NewServer(cfg *config.Config, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, pipe: pipe, log: log, health: health.NewServer()}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.ChainUnaryInterceptor(s.logUnary),
	)
	RegisterStitcherServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server starting", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and stops gracefully when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.cfg.Server.GRPCAddr, err)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	err = s.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop marks the service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Stitch runs a stitch or generate job. Request fields: input_dir,
// output_dir, mode ("stitch" or "generate") and quality. Directories are
// names relative to the configured upload directory and to the output (stitch)
// or results (generate) directory; empty names select those directories.
func (s *Server) Stitch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	mode := fields["mode"].GetStringValue()
	if mode == "" {
		mode = string(pipeline.JobStitch)
	}

	job := pipeline.Job{Type: pipeline.JobType(mode)}
	var outputRoot string
	switch job.Type {
	case pipeline.JobStitch:
		outputRoot = s.cfg.Paths.OutputDir
	case pipeline.JobGenerate:
		outputRoot = s.cfg.ResultsDir()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown mode %q", mode)
	}

	var err error
	if job.InputPath, err = resolveDir(s.cfg.Paths.UploadDir, fields["input_dir"].GetStringValue()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "input_dir: %v", err)
	}
	if job.Output, err = resolveDir(outputRoot, fields["output_dir"].GetStringValue()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "output_dir: %v", err)
	}
	if q, ok := fields["quality"]; ok {
		job.Options = map[string]any{"quality": q.GetNumberValue()}
	}

	res, err := s.pipe.SubmitAndWait(ctx, job)
	if errors.Is(err, pipeline.ErrQueueFull) {
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if res.Error != nil {
		return nil, status.Error(codeForError(res.Error), res.Error.Error())
	}

	out, err := toStruct(res.Meta)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	out.Fields["job_id"] = structpb.NewStringValue(res.Job.ID)
	out.Fields["mode"] = structpb.NewStringValue(mode)
	return out, nil
}

// Heartbeat returns the server time.
func (s *Server) Heartbeat(ctx context.Context, _ *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.Now(), nil
}

// resolveDir confines a client supplied directory name to root. An empty
// name resolves to "" so the router applies its configured default.
func resolveDir(root, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	p, err := fsutil.SafeJoin(root, name)
	if err != nil {
		return "", fmt.Errorf("%q must be relative to the server directory: %w", name, err)
	}
	return p, nil
}

// codeForError maps failure kinds onto gRPC status codes.
func codeForError(err error) codes.Code {
	switch stitch.Kind(err) {
	case "InvalidInput":
		return codes.InvalidArgument
	case "InsufficientFeatures", "InsufficientMatches", "DegenerateHomography":
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// toStruct converts job metadata through JSON since structpb only accepts
// untyped slices and maps.
func toStruct(meta map[string]any) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if len(meta) == 0 {
		return out, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{"method", info.FullMethod, "duration", time.Since(start), "code", status.Code(err).String()}
	if err != nil {
		s.log.Warn("gRPC call failed", append(attrs, "error", err)...)
	} else {
		s.log.Debug("gRPC call", attrs...)
	}
	return resp, err
}

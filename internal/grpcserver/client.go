package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Client calls a remote panoramer.v1.Stitcher.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Stitch submits a job and waits for its result.
func (c *Client) Stitch(ctx context.Context, mode, inputDir, outputDir string) (map[string]any, error) {
	req, err := structpb.NewStruct(map[string]any{
		"mode":       mode,
		"input_dir":  inputDir,
		"output_dir": outputDir,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Stitch", req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Heartbeat returns the remote server time.
func (c *Client) Heartbeat(ctx context.Context) (*timestamppb.Timestamp, error) {
	out := new(timestamppb.Timestamp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Heartbeat", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

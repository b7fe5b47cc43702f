package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/codeclash/codeclash-backend/pkg/logger"
)

// ExecuteMethod is the full gRPC method name served by the code executor.
const ExecuteMethod = "/executor.v1.Executor/Execute"

// codecName is sent as the gRPC content-subtype, so messages travel as
// application/grpc+json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ExecuteRequest runs Code once against Input. Timeout is in milliseconds.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
	Timeout  int64  `json:"timeout"`
	TaskID   string `json:"taskId"`
	UserID   string `json:"userId"`
}

// ExecuteResponse is a finished run. A non-empty Error is the program's
// failure (crash, compile error, time limit), not a transport failure.
type ExecuteResponse struct {
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"`
	Memory        int64  `json:"memory"`
}

type Client struct {
	address string
	timeout time.Duration
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
}

// NewClient prepares a lazy connection to the executor. timeout caps every
// call on top of the caller's context.
func NewClient(address string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to executor: %w", err)
	}

	logger.Info("Executor client configured", "address", address)

	return &Client{
		address: address,
		timeout: timeout,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
	}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Execute sends one run to the executor. An error return means the call
// itself failed and may be retried.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp ExecuteResponse
	if err := c.conn.Invoke(ctx, ExecuteMethod, &req, &resp); err != nil {
		return nil, fmt.Errorf("executor call failed: %w", err)
	}

	logger.Debug("Execution completed",
		"taskId", req.TaskID,
		"language", req.Language,
		"executionTime", resp.ExecutionTime,
		"hasError", resp.Error != "",
	)

	return &resp, nil
}

// HealthCheck uses the standard gRPC health service. The health protocol is
// protobuf, so the default codec is forced for this call.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.CallContentSubtype("proto"))
	if err != nil {
		return fmt.Errorf("executor health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("executor is not serving: %s", resp.GetStatus())
	}
	return nil
}

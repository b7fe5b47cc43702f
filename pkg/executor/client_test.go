package executor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// startFakeExecutor serves ExecuteMethod through the unknown-service hook so
// no generated stubs are needed.
func startFakeExecutor(t *testing.T, handle func(ExecuteRequest) (*ExecuteResponse, error)) *Client {
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ interface{}, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != ExecuteMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}

		var req ExecuteRequest
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		resp, err := handle(req)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	client, err := NewClient("passthrough:///bufnet", 2*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestClient_Execute(t *testing.T) {
	client := startFakeExecutor(t, func(req ExecuteRequest) (*ExecuteResponse, error) {
		return &ExecuteResponse{
			Output:        req.Input + "\n",
			ExecutionTime: 12,
			Memory:        2048,
		}, nil
	})

	resp, err := client.Execute(context.Background(), ExecuteRequest{
		Code:     "print(input())",
		Language: "python",
		Input:    "hello",
		Timeout:  2000,
		TaskID:   "task-1",
		UserID:   "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", resp.Output)
	assert.Equal(t, int64(12), resp.ExecutionTime)
	assert.Empty(t, resp.Error)
}

func TestClient_ExecuteVerdictIsNotTransportError(t *testing.T) {
	client := startFakeExecutor(t, func(req ExecuteRequest) (*ExecuteResponse, error) {
		return &ExecuteResponse{Error: "Time limit exceeded"}, nil
	})

	resp, err := client.Execute(context.Background(), ExecuteRequest{Code: "while True: pass", Language: "python"})
	require.NoError(t, err)
	assert.Equal(t, "Time limit exceeded", resp.Error)
}

func TestClient_ExecuteTransportError(t *testing.T) {
	client := startFakeExecutor(t, func(req ExecuteRequest) (*ExecuteResponse, error) {
		return nil, status.Error(codes.Unavailable, "sandbox pool exhausted")
	})

	_, err := client.Execute(context.Background(), ExecuteRequest{Code: "x", Language: "python"})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestClient_HealthCheck(t *testing.T) {
	client := startFakeExecutor(t, func(req ExecuteRequest) (*ExecuteResponse, error) {
		return &ExecuteResponse{}, nil
	})

	assert.NoError(t, client.HealthCheck(context.Background()))
}

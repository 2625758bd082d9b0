package testruntime

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// ServeGRPC serves the services registered by register over an in memory
// listener and returns a connection to it. Both are closed with the test.
func ServeGRPC(t *testing.T, register func(srv *grpc.Server)) *grpc.ClientConn {
	t.Helper()

	var (
		lis = bufconn.Listen(1 << 20)
		srv = grpc.NewServer()
	)

	register(srv)

	go func() {
		_ = srv.Serve(lis)
	}()

	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

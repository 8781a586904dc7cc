package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"sykli/internal/core"
)

type fakeExecutor struct {
	gotTask core.Task
	err     error
}

func (f *fakeExecutor) RunTask(ctx context.Context, task core.Task, workdir string, env map[string]string) ([]byte, []byte, int, error) {
	f.gotTask = task
	if f.err != nil {
		return nil, []byte("boom"), 1, f.err
	}
	return []byte("ok"), nil, 0, nil
}

func startTestServer(t *testing.T, exec Executor) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	RegisterServer(gs, NewServer(exec))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	return lis.Addr().String()
}

func TestDispatch_RoundTripsOverGRPC(t *testing.T) {
	exec := &fakeExecutor{}
	addr := startTestServer(t, exec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, "remote-1", addr, grpc.WithInsecure(), grpc.WithBlock())
	require.NoError(t, err)
	defer client.Close()

	task := core.Task{Name: "build", Command: "make"}
	stdout, _, exitCode, err := client.Dispatch(ctx, task, "/work", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, []byte("ok"), stdout)
	assert.Equal(t, "build", exec.gotTask.Name)
}

func TestDispatch_MapsNodeDownError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Dialing a port nothing listens on, without WithBlock, succeeds at
	// Dial time; the failure surfaces on the call itself as Unavailable.
	client, err := Dial(context.Background(), "ghost", "127.0.0.1:1", grpc.WithInsecure())
	require.NoError(t, err)
	defer client.Close()

	_, _, _, err = client.Dispatch(ctx, core.Task{Name: "build"}, "/work", nil)
	require.Error(t, err)
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Contains(t, []DispatchErrorKind{ErrNodeNotConnected, ErrTimeout}, dispatchErr.Kind)
}

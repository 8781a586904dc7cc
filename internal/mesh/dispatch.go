package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sykli/internal/core"
)

// dispatchRequest/dispatchReply are the JSON envelopes carried inside the
// gRPC call's wrapperspb.BytesValue payload. A hand-written service
// description (below) lets Dispatch exercise real grpc/protobuf wire
// machinery without a generated .pb.go: wrapperspb.BytesValue already
// implements proto.Message, so grpc's default codec marshals it exactly as
// it would a generated type.
type dispatchRequest struct {
	Task    core.Task         `json:"task"`
	Workdir string            `json:"workdir"`
	Env     map[string]string `json:"env,omitempty"`
}

type dispatchReply struct {
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Err      string `json:"err,omitempty"`
}

// Executor is the local "run one task" entry point a dispatch server
// wraps; internal/target.Target satisfies a narrower version of this.
type Executor interface {
	RunTask(ctx context.Context, task core.Task, workdir string, env map[string]string) (stdout, stderr []byte, exitCode int, err error)
}

const dispatchMethod = "/sykli.mesh.Dispatcher/Dispatch"

type dispatchServer interface {
	Dispatch(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// Server exposes an Executor over gRPC so a remote sykli daemon can
// dispatch tasks to it.
type Server struct {
	exec Executor
}

func NewServer(exec Executor) *Server { return &Server{exec: exec} }

func (s *Server) Dispatch(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var in dispatchRequest
	if err := json.Unmarshal(req.GetValue(), &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding dispatch request: %v", err)
	}

	stdout, stderr, exitCode, err := s.exec.RunTask(ctx, in.Task, in.Workdir, in.Env)
	out := dispatchReply{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if err != nil {
		out.Err = err.Error()
	}
	data, marshalErr := json.Marshal(out)
	if marshalErr != nil {
		return nil, status.Errorf(codes.Internal, "encoding dispatch reply: %v", marshalErr)
	}
	return wrapperspb.Bytes(data), nil
}

func dispatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(dispatchServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(dispatchServer).Dispatch(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is registered with a *grpc.Server via RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sykli.mesh.Dispatcher",
	HandlerType: (*dispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sykli/mesh/dispatch.proto",
}

// RegisterServer attaches s to gs.
func RegisterServer(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// DispatchErrorKind classifies an RPC dispatch failure per spec §4.7.
type DispatchErrorKind string

const (
	ErrNodeNotConnected DispatchErrorKind = "node_not_connected"
	ErrTimeout          DispatchErrorKind = "timeout"
	ErrRPCFailed        DispatchErrorKind = "rpc_failed"
)

// DispatchError wraps a remote dispatch failure with its classification.
type DispatchError struct {
	Kind DispatchErrorKind
	Node string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %s: %v", e.Node, e.Kind, e.Err)
}
func (e *DispatchError) Unwrap() error { return e.Err }

// Client dispatches tasks to a remote node over gRPC.
type Client struct {
	node string
	cc   *grpc.ClientConn
}

// Dial opens a connection to a remote node's dispatch endpoint.
func Dial(ctx context.Context, node, addr string, opts ...grpc.DialOption) (*Client, error) {
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, &DispatchError{Kind: ErrNodeNotConnected, Node: node, Err: err}
	}
	return &Client{node: node, cc: cc}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

// Dispatch invokes the remote Executor and maps transport failures per
// spec §4.7: node-down -> node_not_connected, deadline -> timeout, else
// rpc_failed.
func (c *Client) Dispatch(ctx context.Context, task core.Task, workdir string, env map[string]string) (stdout, stderr []byte, exitCode int, err error) {
	payload, err := json.Marshal(dispatchRequest{Task: task, Workdir: workdir, Env: env})
	if err != nil {
		return nil, nil, 0, err
	}

	out := new(wrapperspb.BytesValue)
	rpcErr := c.cc.Invoke(ctx, dispatchMethod, wrapperspb.Bytes(payload), out)
	if rpcErr != nil {
		return nil, nil, 0, mapRPCError(c.node, rpcErr)
	}

	var reply dispatchReply
	if err := json.Unmarshal(out.GetValue(), &reply); err != nil {
		return nil, nil, 0, &DispatchError{Kind: ErrRPCFailed, Node: c.node, Err: err}
	}
	if reply.Err != "" {
		return reply.Stdout, reply.Stderr, reply.ExitCode, errors.New(reply.Err)
	}
	return reply.Stdout, reply.Stderr, reply.ExitCode, nil
}

func mapRPCError(node string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &DispatchError{Kind: ErrRPCFailed, Node: node, Err: err}
	}
	switch st.Code() {
	case codes.Unavailable:
		return &DispatchError{Kind: ErrNodeNotConnected, Node: node, Err: err}
	case codes.DeadlineExceeded:
		return &DispatchError{Kind: ErrTimeout, Node: node, Err: err}
	default:
		return &DispatchError{Kind: ErrRPCFailed, Node: node, Err: err}
	}
}

// contextWithDeadline is a small convenience used by callers that want a
// bounded dispatch without threading a timeout through every call site.
func contextWithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

package taskv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "voicebox.task.v1.Task"

const (
	Task_Start_FullMethodName     = "/voicebox.task.v1.Task/Start"
	Task_Stop_FullMethodName      = "/voicebox.task.v1.Task/Stop"
	Task_Status_FullMethodName    = "/voicebox.task.v1.Task/Status"
	Task_List_FullMethodName      = "/voicebox.task.v1.Task/List"
	Task_SendInput_FullMethodName = "/voicebox.task.v1.Task/SendInput"
	Task_Logs_FullMethodName      = "/voicebox.task.v1.Task/Logs"
)

// CategoryScopedMethods lists the methods of the Task service that act on a
// single category, or whose results are filtered by category.
var CategoryScopedMethods = []string{"Start", "Stop", "Status", "List", "SendInput", "Logs"}

// TaskClient is the client API for the Task service.
type TaskClient interface {
	Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error)
	Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error)
	Status(ctx context.Context, in *CategoryRef, opts ...grpc.CallOption) (*TaskStatus, error)
	List(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*TaskStatusList, error)
	SendInput(ctx context.Context, in *InputRequest, opts ...grpc.CallOption) (*Empty, error)
	Logs(ctx context.Context, in *CategoryRef, opts ...grpc.CallOption) (grpc.ServerStreamingClient[LogEvent], error)
}

type taskClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskClient(cc grpc.ClientConnInterface) TaskClient {
	return &taskClient{cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.StaticMethod(), grpc.CallContentSubtype(Codec)}, opts...)
}

func (c *taskClient) Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error) {
	out := new(StartResponse)
	if err := c.cc.Invoke(ctx, Task_Start_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskClient) Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error) {
	out := new(StopResponse)
	if err := c.cc.Invoke(ctx, Task_Stop_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskClient) Status(ctx context.Context, in *CategoryRef, opts ...grpc.CallOption) (*TaskStatus, error) {
	out := new(TaskStatus)
	if err := c.cc.Invoke(ctx, Task_Status_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskClient) List(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*TaskStatusList, error) {
	out := new(TaskStatusList)
	if err := c.cc.Invoke(ctx, Task_List_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskClient) SendInput(ctx context.Context, in *InputRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, Task_SendInput_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskClient) Logs(ctx context.Context, in *CategoryRef, opts ...grpc.CallOption) (grpc.ServerStreamingClient[LogEvent], error) {
	stream, err := c.cc.NewStream(ctx, &Task_ServiceDesc.Streams[0], Task_Logs_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[CategoryRef, LogEvent]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// TaskServer is the server API for the Task service.
type TaskServer interface {
	Start(context.Context, *StartRequest) (*StartResponse, error)
	Stop(context.Context, *StopRequest) (*StopResponse, error)
	Status(context.Context, *CategoryRef) (*TaskStatus, error)
	List(context.Context, *Empty) (*TaskStatusList, error)
	SendInput(context.Context, *InputRequest) (*Empty, error)
	Logs(*CategoryRef, grpc.ServerStreamingServer[LogEvent]) error
}

// UnimplementedTaskServer can be embedded to have forward compatible
// implementations.
type UnimplementedTaskServer struct{}

func (UnimplementedTaskServer) Start(context.Context, *StartRequest) (*StartResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Start not implemented")
}

func (UnimplementedTaskServer) Stop(context.Context, *StopRequest) (*StopResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Stop not implemented")
}

func (UnimplementedTaskServer) Status(context.Context, *CategoryRef) (*TaskStatus, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Status not implemented")
}

func (UnimplementedTaskServer) List(context.Context, *Empty) (*TaskStatusList, error) {
	return nil, status.Errorf(codes.Unimplemented, "method List not implemented")
}

func (UnimplementedTaskServer) SendInput(context.Context, *InputRequest) (*Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendInput not implemented")
}

func (UnimplementedTaskServer) Logs(*CategoryRef, grpc.ServerStreamingServer[LogEvent]) error {
	return status.Errorf(codes.Unimplemented, "method Logs not implemented")
}

func RegisterTaskServer(s grpc.ServiceRegistrar, srv TaskServer) {
	s.RegisterService(&Task_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(TaskServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TaskServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Task_Logs_Handler(srv any, stream grpc.ServerStream) error {
	m := new(CategoryRef)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TaskServer).Logs(m, &grpc.GenericServerStream[CategoryRef, LogEvent]{ServerStream: stream})
}

var Task_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Start",
			Handler:    unaryHandler(Task_Start_FullMethodName, TaskServer.Start),
		},
		{
			MethodName: "Stop",
			Handler:    unaryHandler(Task_Stop_FullMethodName, TaskServer.Stop),
		},
		{
			MethodName: "Status",
			Handler:    unaryHandler(Task_Status_FullMethodName, TaskServer.Status),
		},
		{
			MethodName: "List",
			Handler:    unaryHandler(Task_List_FullMethodName, TaskServer.List),
		},
		{
			MethodName: "SendInput",
			Handler:    unaryHandler(Task_SendInput_FullMethodName, TaskServer.SendInput),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Logs",
			Handler:       _Task_Logs_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "pkg/apis/task/v1/service.go",
}

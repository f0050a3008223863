package instrument

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/unixpickle/essentials"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DispatcherService is the gRPC service which accepts
// remote jobs.
const DispatcherService = "cistar.instrument.v1.Dispatcher"

const submitMethod = "/" + DispatcherService + "/Submit"

// DefaultSubmitTimeout bounds a single remote submission.
const DefaultSubmitTimeout = 30 * time.Second

// DispatcherServer is the server side of the dispatcher
// service.
//
// Requests are Job payloads as produced by JobPayload.
// Responses carry a boolean "accepted" field, plus an "id"
// on success or a "reason" on rejection.
type DispatcherServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDispatcherServer registers srv with a gRPC
// server.
func RegisterDispatcherServer(s grpc.ServiceRegistrar, srv DispatcherServer) {
	s.RegisterService(&dispatcherServiceDesc, srv)
}

var dispatcherServiceDesc = grpc.ServiceDesc{
	ServiceName: DispatcherService,
	HandlerType: (*DispatcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cistar/instrument/v1/dispatcher.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatcherServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatcherServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RemoteBackend submits jobs to a dispatcher over gRPC.
//
// The variant file and initial parameters are sent inline,
// so the dispatcher does not need access to the local run
// directory.
type RemoteBackend struct {
	// Addr is the dispatcher target, e.g. "host:50051".
	Addr string

	// DialOptions are passed to grpc.NewClient.
	// If empty, an insecure connection is used.
	DialOptions []grpc.DialOption

	// Timeout bounds each submission.
	// If 0, DefaultSubmitTimeout is used.
	Timeout time.Duration

	lock sync.Mutex
	conn *grpc.ClientConn
}

// Submit sends the job to the dispatcher.
func (r *RemoteBackend) Submit(ctx context.Context, job *Job) (err error) {
	defer essentials.AddCtxTo("remote submit", &err)
	conn, err := r.client()
	if err != nil {
		return err
	}
	payload, err := JobPayload(job)
	if err != nil {
		return err
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultSubmitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, submitMethod, payload, resp); err != nil {
		return err
	}
	fields := resp.GetFields()
	if !fields["accepted"].GetBoolValue() {
		return fmt.Errorf("dispatcher rejected %s: %s", job.ExpName, fields["reason"].GetStringValue())
	}
	return nil
}

// Close closes the connection to the dispatcher.
func (r *RemoteBackend) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Check fails if no dispatcher address is configured.
func (r *RemoteBackend) Check() error {
	if r.Addr == "" {
		return errors.New("remote backend: no dispatcher address")
	}
	return nil
}

func (r *RemoteBackend) client() (*grpc.ClientConn, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	opts := r.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(r.Addr, opts...)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

// JobPayload encodes a job for the dispatcher, reading
// its variant and parameter files.
func JobPayload(job *Job) (*structpb.Struct, error) {
	variant, err := os.ReadFile(job.VariantFile)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"method":       job.Method,
		"exp_name":     job.ExpName,
		"dir":          job.Dir,
		"variant_yaml": string(variant),
		"options": map[string]any{
			"n_parallel":    job.Options.NParallel,
			"snapshot_mode": job.Options.SnapshotMode,
			"snapshot_gap":  job.Options.SnapshotGap,
			"seed":          job.Options.Seed,
			"mode":          job.Options.Mode,
			"exp_prefix":    job.Options.ExpPrefix,
			"log_dir":       job.Options.LogDir,
		},
	}
	if job.PolicyFile != "" {
		params, err := os.ReadFile(job.PolicyFile)
		if err != nil {
			return nil, err
		}
		fields["params"] = params
	}
	return structpb.NewStruct(fields)
}

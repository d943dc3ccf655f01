package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

const AnalysisServiceName = "medsummary.v1.AnalysisService"

// AnalysisServer is the gRPC analysis service. Messages are
// google.protobuf.Struct values shaped like the HTTP JSON bodies.
type AnalysisServer interface {
	SubmitAnalysis(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProviders(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var AnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisServiceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitAnalysis", AnalysisServer.SubmitAnalysis),
		unaryMethod("GetJob", AnalysisServer.GetJob),
		unaryMethod("ListProviders", AnalysisServer.ListProviders),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "medsummary/v1/analysis.proto",
}

func unaryMethod(name string, call func(AnalysisServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + AnalysisServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AnalysisServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AnalysisServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

type AnalysisService struct {
	jobs   Jobs
	logger *slog.Logger
}

func NewAnalysisService(jobs Jobs, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{jobs: jobs, logger: logger}
}

// SubmitAnalysis expects {"job_id", "provider", "options": {"ocr", "embeddings"}}.
func (s *AnalysisService) SubmitAnalysis(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	opts := f["options"].GetStructValue().GetFields()
	job, err := s.jobs.SubmitAnalysis(ctx, f["job_id"].GetStringValue(), pipeline.SubmitRequest{
		Provider: f["provider"].GetStringValue(),
		Options: entity.AnalysisOptions{
			OCR:        opts["ocr"].GetBoolValue(),
			Embeddings: opts["embeddings"].GetBoolValue(),
		},
	})
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(job.Projection())
}

func (s *AnalysisService) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	job, err := s.jobs.GetJob(ctx, req.GetFields()["job_id"].GetStringValue())
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(job.Projection())
}

func (s *AnalysisService) ListProviders(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"providers": s.jobs.ListProviders()})
}

// toStruct goes through JSON so the Struct carries exactly the HTTP field names.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.GRPCStatus(fmt.Errorf("%w: encode response: %v", common.ErrInternal, err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, common.GRPCStatus(fmt.Errorf("%w: encode response: %v", common.ErrInternal, err))
	}
	return out, nil
}

// NewGRPCServer registers the analysis service with health and reflection.
func NewGRPCServer(svc AnalysisServer, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))
	gs.RegisterService(&AnalysisServiceDesc, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(AnalysisServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(gs)
	return gs, hs
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc.request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// AnalysisClient calls the analysis service over an existing connection.
type AnalysisClient struct {
	cc grpc.ClientConnInterface
}

func NewAnalysisClient(cc grpc.ClientConnInterface) *AnalysisClient {
	return &AnalysisClient{cc: cc}
}

func (c *AnalysisClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AnalysisServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnalysisClient) SubmitAnalysis(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "SubmitAnalysis", in, opts...)
}

func (c *AnalysisClient) GetJob(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetJob", in, opts...)
}

func (c *AnalysisClient) ListProviders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "ListProviders", in, opts...)
}

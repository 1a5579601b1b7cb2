package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

const serviceName = "delivery.v1.DeliveryConfirmationService"

type DeliveryConfirmationService interface {
	IssueCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDeliveryStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	service *service.DeliveryService
}

func NewServer(svc *service.DeliveryService) *Server {
	return &Server{service: svc}
}

// Register adds the delivery service and the standard health service to server.
func Register(server *grpc.Server, svc DeliveryConfirmationService) *health.Server {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*DeliveryConfirmationService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "IssueCredential",
				Handler:    unaryHandler("IssueCredential", svc.IssueCredential),
			},
			{
				MethodName: "GetDeliveryStatus",
				Handler:    unaryHandler("GetDeliveryStatus", svc.GetDeliveryStatus),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "delivery/v1/delivery_confirmation.proto",
	}, svc)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return healthServer
}

// IssueCredential is called by the order subsystem when an order with physical goods is placed.
// The response carries the token and expiry but never the secret.
func (s *Server) IssueCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := req.GetFields()["order_id"].GetStringValue()
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing order_id")
	}
	cred, err := s.service.Issue(ctx, actorFromContext(ctx), orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"order_id":     cred.OrderID,
		"product_name": cred.ProductName,
		"qr_code":      cred.QRCode,
		"expires_at":   cred.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *Server) GetDeliveryStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := req.GetFields()["order_id"].GetStringValue()
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing order_id")
	}
	summary, err := s.service.Status(ctx, actorFromContext(ctx), orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	fields := map[string]any{
		"order_id":     summary.OrderID,
		"product_name": summary.ProductName,
		"status":       string(summary.Status),
		"expires_at":   summary.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if summary.ConfirmedAt != nil {
		fields["confirmed_at"] = summary.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidCode):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrOrderNotEligible), errors.Is(err, service.ErrExpired):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrAlreadyDelivered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrSecretMismatch):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrTooManyAttempts):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

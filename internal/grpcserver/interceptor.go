package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bharathbbg/delivery-confirmation-service/internal/logger"
	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

// LoggingInterceptor logs every unary call with its gRPC code and attaches a request id.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx = logger.WithContext(ctx, zap.String("request_id", uuid.NewString()))
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil {
			logger.For(ctx, log).Warn("grpc request failed", append(fields, zap.Error(err))...)
		} else {
			logger.For(ctx, log).Info("grpc request completed", fields...)
		}
		return resp, err
	}
}

// TokenVerifier turns a bearer token into the authenticated caller.
type TokenVerifier interface {
	Verify(raw string) (service.Actor, error)
}

type actorKey struct{}

const healthServicePrefix = "/grpc.health.v1.Health/"

// AuthInterceptor authenticates every call from the "authorization" metadata and stores the
// caller on the context. Health checks are left open.
func AuthInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		raw, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		actor, err := verifier.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		ctx = logger.WithContext(ctx, zap.String("actor_id", actor.UserID))
		return handler(context.WithValue(ctx, actorKey{}, actor), req)
	}
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get("authorization") {
		const prefix = "Bearer "
		if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
			return strings.TrimSpace(value[len(prefix):]), true
		}
	}
	return "", false
}

// actorFromContext returns the zero Actor when the call was not authenticated, which the
// service rejects with ErrUnauthorized.
func actorFromContext(ctx context.Context) service.Actor {
	actor, _ := ctx.Value(actorKey{}).(service.Actor)
	return actor
}

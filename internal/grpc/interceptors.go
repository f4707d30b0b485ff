package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// loggingInterceptor returns a unary server interceptor that logs requests.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		s.logger.Debug("grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

// streamLoggingInterceptor returns a stream server interceptor that logs requests.
func (s *Server) streamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}
		s.logger.Info("grpc stream",
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start),
		)
		return err
	}
}

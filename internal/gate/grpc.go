package gate

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/session"
)

const (
	bearerPrefix   = "bearer "
	deviceIDHeader = "x-device-id"
)

// UnaryInterceptor returns a unary server interceptor that runs the gate for
// every RPC. publicMethods is the set of full method names that skip the
// gate entirely (e.g. health checks, the refresh RPC itself).
func UnaryInterceptor(g *Gate, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		rc, err := g.Authorize(ctx, Request{
			Credential: bearerFromMetadata(ctx),
			DeviceID:   metadataValue(ctx, deviceIDHeader),
			IPAddress:  ClientIP(ctx),
			UserAgent:  metadataValue(ctx, "user-agent"),
		})
		if err != nil {
			return nil, GRPCStatus(err)
		}
		if rc != nil {
			ctx = WithRequestContext(ctx, rc)
		}
		return handler(ctx, req)
	}
}

// GRPCStatus maps a gate error to its gRPC status. TokenExpired keeps a
// distinct message so clients know to refresh rather than re-authenticate.
func GRPCStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshLimitExceeded):
		return status.Error(codes.Unauthenticated, "refresh limit exceeded; full authentication required")
	case errors.Is(err, security.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, "insufficient role or permission")
	case errors.Is(err, security.ErrDependencyUnavailable):
		return status.Error(codes.Unavailable, "authorization backend unavailable")
	case errors.Is(err, security.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "missing or invalid authorization")
	default:
		return status.Error(codes.Internal, "authorization failed")
	}
}

// bearerFromMetadata returns the Bearer token from ctx metadata, or "" if
// missing or malformed.
func bearerFromMetadata(ctx context.Context) string {
	v := metadataValue(ctx, "authorization")
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for,
// x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Verifier checks bearer tokens. Required.
	Verifier TokenVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(verifier TokenVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verifier TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier TokenVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// authenticate returns the context handlers should see. A missing or rejected
// token is only an error when the method needs a user.
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	required := c.RequireAuth && !c.PublicMethods[method]

	token := bearerToken(ctx)
	if token == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	if c.Verifier == nil {
		return nil, status.Error(codes.Internal, "auth interceptor has no token verifier")
	}

	userID, err := c.Verifier.VerifyToken(ctx, token)
	if err != nil {
		c.logger().Debug("rejected grpc auth token", "method", method, "err", err)
		if required {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return ctx, nil
	}
	return ContextWithUserID(ctx, userID), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the
// bearer token and places the user id in the handler's context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStream overrides the stream context with the authenticated one
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

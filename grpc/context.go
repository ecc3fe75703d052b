// Package grpc carries bookauth sessions into gRPC services. Clients send the
// auth token from a login as "authorization: Bearer <token>" metadata; the
// interceptors verify it and expose the user id to handlers.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// MetadataKeyAuthorization is the gRPC metadata key holding the bearer token
const MetadataKeyAuthorization = "authorization"

// TokenVerifier checks an auth token and returns the user id it was issued
// for. bookauth.SessionManager implements it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type userIDKey struct{}

// UserIDFromContext returns the user id the interceptor verified, or "" for
// anonymous calls.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// ContextWithUserID is what the interceptors use to attach the verified user
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// BearerTokenToOutgoingContext attaches token to outgoing call metadata
func BearerTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyAuthorization, "Bearer "+token)
}

// bearerToken extracts the token from incoming metadata
func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(MetadataKeyAuthorization) {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

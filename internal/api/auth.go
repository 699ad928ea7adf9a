package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/evently/eventchat/pkg/token"
)

// Principal is the authenticated participant attached to a request by the
// JWT middleware. Token issuance lives in the surrounding platform; this
// layer only verifies.
type Principal struct {
	UserID   string
	UserName string
}

type principalContextKey struct{}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// principalFromRequest extracts the principal from the request context.
// It must be called in handlers that are protected by the JWTMiddleware.
// It panics if the principal is not found in the request context.
func principalFromRequest(r *http.Request) Principal {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		panic("principal not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return p
}

// bearerToken pulls the token from the Authorization header or, failing
// that, the "token" query parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if t, ok := strings.CutPrefix(header, "Bearer "); ok {
			return t
		}
	}
	return r.URL.Query().Get("token")
}

// JWTMiddleware verifies the request's participant token and attaches the
// principal to the request context for subsequent handlers.
func JWTMiddleware(secret []byte) ApiMiddleware {
	return func(next http.Handler) ApiHandleFunc {
		authErr := NewApiError("unauthenticated", http.StatusUnauthorized)

		return func(w http.ResponseWriter, r *http.Request) error {
			raw := bearerToken(r)
			if raw == "" {
				return authErr
			}

			claims, err := token.Verify(raw, secret)
			if err != nil {
				return authErr
			}

			ctx := ContextWithPrincipal(r.Context(), Principal{
				UserID:   claims.UserID(),
				UserName: claims.UserName,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		}
	}
}

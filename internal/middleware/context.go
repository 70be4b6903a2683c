package middleware

import "context"

type contextKey string

const (
	scopesKey contextKey = "scopes"
	keyIDKey  contextKey = "key_id"
)

// WithScopes stores the verified key's scopes in ctx.
func WithScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

// ScopesFromContext returns the verified scopes, or nil.
func ScopesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(scopesKey).([]string); ok {
		return v
	}
	return nil
}

// HasScope reports whether the request context carries the given scope.
func HasScope(ctx context.Context, scope string) bool {
	for _, s := range ScopesFromContext(ctx) {
		if s == scope {
			return true
		}
	}
	return false
}

// WithKeyID stores the verified key ID in ctx.
func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyIDKey, keyID)
}

// KeyIDFromContext returns the verified key ID, or "".
func KeyIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyIDKey).(string); ok {
		return v
	}
	return ""
}

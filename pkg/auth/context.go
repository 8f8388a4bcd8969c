package auth

import "context"

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the principal, or ErrUnauthorizedAccess when none is
// attached.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, ErrUnauthorizedAccess
	}
	return p, nil
}

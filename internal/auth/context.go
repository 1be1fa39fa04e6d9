package auth

import "context"

type contextKey struct{}

// ContextWithProfile returns a context carrying the authenticated profile.
func ContextWithProfile(ctx context.Context, profile Profile) context.Context {
	return context.WithValue(ctx, contextKey{}, profile)
}

// ProfileFromContext returns the authenticated profile, if any. Resolvers use
// this to attribute dispatches and publishes to a caller.
func ProfileFromContext(ctx context.Context) (Profile, bool) {
	profile, ok := ctx.Value(contextKey{}).(Profile)
	return profile, ok
}

package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey  = contextKey{"user_id"}
	tokenIDKey = contextKey{"token_id"}
)

// WithIdentity returns a context with user_id and the access token id (jti) set.
// Handlers read these via GetUserID and GetTokenID.
func WithIdentity(ctx context.Context, userID, tokenID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, tokenIDKey, tokenID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetTokenID returns the access token id from context and true if set; otherwise "", false.
func GetTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenIDKey).(string)
	return v, ok
}

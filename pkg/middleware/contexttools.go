package middleware

import "context"

type contextKey string

const (
	contextKeyUserID        contextKey = "user_id"
	contextKeyCorrelationID contextKey = "correlation_id"
)

func GetUserID(ctx context.Context) string {
	user, _ := ctx.Value(contextKeyUserID).(string)
	return user
}

func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyCorrelationID).(string)
	return id
}

func WithUserID(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, user)
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationID, id)
}

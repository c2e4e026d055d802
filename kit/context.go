package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "queue", "cli"
	RequestIDKey contextKey = "kit_request_id"
	ItemIDKey    contextKey = "kit_item_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithItemID tags the context with the work item being processed.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ItemIDKey, id)
}
func GetItemID(ctx context.Context) string {
	v, _ := ctx.Value(ItemIDKey).(string)
	return v
}

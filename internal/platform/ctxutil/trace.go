package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is the scope a background job carries across the queue boundary:
// a trace id for correlating log lines with the request that enqueued the
// job, plus the userId/chatId the job operates on, since every MCOS job
// (summarize, vector upload, profile merge) is scoped to exactly one chat.
type TraceData struct {
	TraceID string
	UserID  string
	ChatID  string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

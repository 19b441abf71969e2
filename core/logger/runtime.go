package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	fieldsKey ctxKey = iota
	loggerKey
)

// Fields are the correlation identifiers of one unit of work. Every record
// logged with a context carrying them gets the non-zero ones appended.
type Fields struct {
	RID             string
	UpdateID        int
	CorrespondentID int64
	ChatID          int64
	Kind            string
	Handler         string
	TraceID         string
	SpanID          string
}

func (f Fields) appendTo(fields map[string]any) {
	put := func(key string, val any, set bool) {
		if !set {
			return
		}
		if _, taken := fields[key]; !taken {
			fields[key] = val
		}
	}
	put("rid", f.RID, f.RID != "")
	put("trace_id", f.TraceID, f.TraceID != "")
	put("span_id", f.SpanID, f.SpanID != "")
	put("update_id", int64(f.UpdateID), f.UpdateID != 0)
	put("correspondent_id", f.CorrespondentID, f.CorrespondentID != 0)
	put("chat_id", f.ChatID, f.ChatID != 0)
	put("kind", f.Kind, f.Kind != "")
	put("handler", f.Handler, f.Handler != "")
}

// FieldsFrom returns the identifiers stored in ctx.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey).(Fields)
	return f
}

// WithFields replaces the identifiers stored in ctx.
func WithFields(ctx context.Context, f Fields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fieldsKey, f)
}

func amend(ctx context.Context, fn func(*Fields)) context.Context {
	f := FieldsFrom(ctx)
	fn(&f)
	return WithFields(ctx, f)
}

// WithLogger stores log in ctx for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext extracts the logger stored by WithLogger, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// WithRID attaches a request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return amend(ctx, func(f *Fields) { f.RID = rid })
}

// WithUpdateMeta attaches the identifiers every dispatch log line carries.
func WithUpdateMeta(ctx context.Context, updateID int, correspondentID, chatID int64) context.Context {
	return amend(ctx, func(f *Fields) {
		f.UpdateID = updateID
		f.CorrespondentID = correspondentID
		f.ChatID = chatID
	})
}

// WithKind records the payload kind of the update being processed.
func WithKind(ctx context.Context, kind string) context.Context {
	if kind == "" && ctx != nil {
		return ctx
	}
	return amend(ctx, func(f *Fields) { f.Kind = kind })
}

// WithHandler names the registration currently running.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" && ctx != nil {
		return ctx
	}
	return amend(ctx, func(f *Fields) { f.Handler = handler })
}

// WithTrace attaches trace and span identifiers. Empty values keep the old ones.
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	return amend(ctx, func(f *Fields) {
		if traceID != "" {
			f.TraceID = traceID
		}
		if spanID != "" {
			f.SpanID = spanID
		}
	})
}

func RIDFrom(ctx context.Context) string { return FieldsFrom(ctx).RID }
func KindFrom(ctx context.Context) string { return FieldsFrom(ctx).Kind }
func HandlerFrom(ctx context.Context) string { return FieldsFrom(ctx).Handler }
func TraceIDFrom(ctx context.Context) string { return FieldsFrom(ctx).TraceID }
func SpanIDFrom(ctx context.Context) string { return FieldsFrom(ctx).SpanID }
func UpdateIDFrom(ctx context.Context) int { return FieldsFrom(ctx).UpdateID }
func CorrespondentIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).CorrespondentID }
func ChatIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).ChatID }

package logging

import "context"

type fieldsKey struct{}

// Fields are the realtime identifiers carried in a context and copied into
// log events by ContextHook.
type Fields struct {
	SessionID string
	Transport string
	Topic     string
}

// FieldsFrom returns the fields stored in ctx, or the zero value.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// WithSession records the live session and the transport serving it.
func WithSession(ctx context.Context, transport, sessionID string) context.Context {
	f := FieldsFrom(ctx)
	f.Transport = transport
	f.SessionID = sessionID
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithTopic records the subscription topic an operation is about.
func WithTopic(ctx context.Context, topic string) context.Context {
	f := FieldsFrom(ctx)
	f.Topic = topic
	return context.WithValue(ctx, fieldsKey{}, f)
}

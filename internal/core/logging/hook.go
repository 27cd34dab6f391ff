package logging

import (
	"github.com/rs/zerolog"
)

// ContextHook writes the realtime Fields found in an event's context.
type ContextHook struct{}

// Run implements zerolog.Hook.
func (ContextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	f := FieldsFrom(e.GetCtx())
	if f.SessionID != "" {
		e.Str("session_id", f.SessionID)
	}
	if f.Transport != "" {
		e.Str("transport", f.Transport)
	}
	if f.Topic != "" {
		e.Str("topic", f.Topic)
	}
}

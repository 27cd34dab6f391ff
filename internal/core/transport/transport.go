// Package transport abstracts the duplex channel to the realtime server.
// Implementations are chosen once at construction: websocket push, HTTP
// polling, or a redis pub/sub bridge.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Conn methods after Close.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one live session with the server. Read is called from a single
// goroutine; Write may be called concurrently with Read.
type Conn interface {
	// SessionID is the identifier assigned by the server for this session.
	SessionID() string
	// Read blocks until the next inbound frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends an outbound control frame.
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Transport opens connections.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// TokenSource returns the current session token, if any. Authentication is
// owned elsewhere; transports only forward the token.
type TokenSource func(ctx context.Context) (string, error)

// BearerToken resolves ts into an Authorization header value. An empty token
// yields an empty value.
func BearerToken(ctx context.Context, ts TokenSource) (string, error) {
	if ts == nil {
		return "", nil
	}
	token, err := ts(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	return "Bearer " + token, nil
}

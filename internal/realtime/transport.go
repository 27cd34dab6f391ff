package realtime

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/colonyops/shopwire/internal/core/config"
	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/core/transport/polltransport"
	"github.com/colonyops/shopwire/internal/core/transport/redistransport"
	"github.com/colonyops/shopwire/internal/core/transport/wstransport"
)

// ErrUnknownTransport is returned for a transport kind with no strategy.
var ErrUnknownTransport = errors.New("realtime: unknown transport")

// EnvToken reads the session token from the named environment variable on
// every dial, so a rotated token is picked up on reconnect.
func EnvToken(name string) transport.TokenSource {
	if name == "" {
		return nil
	}
	return func(context.Context) (string, error) {
		return os.Getenv(name), nil
	}
}

// NewTransport builds the transport strategy selected by cfg.
func NewTransport(cfg config.TransportConfig, token transport.TokenSource) (transport.Transport, error) {
	switch cfg.Kind {
	case config.TransportWebsocket:
		return wstransport.New(wstransport.Options{
			URL:              cfg.URL,
			Token:            token,
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		}), nil
	case config.TransportPoll:
		return polltransport.New(polltransport.Options{
			BaseURL:        cfg.URL,
			Interval:       cfg.PollInterval,
			RequestTimeout: cfg.RequestTimeout,
			Token:          token,
		}), nil
	case config.TransportRedis:
		return redistransport.New(redistransport.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Kind)
	}
}

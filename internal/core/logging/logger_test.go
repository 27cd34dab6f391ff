package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := Component("connection")
	logger.Info().Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connection", entry["cmp"])
	assert.Equal(t, "connected", entry["message"])
}

func TestSub(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).With().Str("app", "shopwire").Logger()

	logger := Sub(base, "registry")
	logger.Warn().Msg("deferred")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "registry", entry["cmp"])
	assert.Equal(t, "shopwire", entry["app"])
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, Config{Format: "json", Level: "debug"})

	log.Debug().Str("device", "/dev/video0").Msg("opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "debug", entry["level"])
	require.Equal(t, "/dev/video0", entry["device"])
	require.Equal(t, "opened", entry["message"])
	require.NotContains(t, entry, "time")
}

func TestBuildLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, Config{Format: "json", Level: "warn"})

	log.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestBuildText(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, Config{Format: "text", Level: "info"})

	log.Info().Msg("hello")
	out := buf.String()
	require.True(t, strings.Contains(out, "INF"), out)
	require.Contains(t, out, "hello")
	require.NotContains(t, out, "\x1b[")
}

func TestNewWithoutOutput(t *testing.T) {
	log := New(Config{})
	require.Equal(t, zerolog.Disabled, log.GetLevel())
}

func TestGetModuleLevel(t *testing.T) {
	var buf bytes.Buffer
	Set(build(&buf, Config{Format: "json", Level: "info"}), map[string]string{
		"camera": "error",
		"broken": "nope",
	})
	t.Cleanup(func() { Set(zerolog.Nop(), nil) })

	cam := Get("camera")
	cam.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	srv := Get("server")
	srv.Info().Msg("visible")
	require.Contains(t, buf.String(), `"module":"server"`)

	buf.Reset()
	broken := Get("broken")
	require.Contains(t, buf.String(), "broken")
	broken.Info().Msg("fallback")
	require.Contains(t, buf.String(), "fallback")
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	l := Component("restore")
	l.Info().Str("user", "chef1").Msg("restore completed")

	out := buf.String()
	require.Contains(t, out, `"component":"restore"`)
	require.Contains(t, out, `"user":"chef1"`)
	require.Contains(t, out, `"message":"restore completed"`)
}

func TestInit_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Msg("hidden")
	Warn().Msg("shown")

	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.Contains(t, out, "shown")
}

package logging_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/vmcp-gateway/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.Configure(&buf, "warn", "PROD")

	log.Info().Msg("dropped")
	log.Warn().Str("browser", "b1").Msg("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), `"browser":"b1"`)
	require.Contains(t, buf.String(), `"message":"kept"`)
}

func TestConfigureUnknownLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.Configure(&buf, "loud", "PROD")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

package logging_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("debug", "PROD", &buf)
	logger.Debug().Str("component", "test").Msg("hello")
	require.Contains(t, buf.String(), `"component":"test"`)
	require.Contains(t, buf.String(), `"level":"debug"`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("warn", "PROD", &buf)
	logger.Info().Msg("dropped")
	require.Empty(t, buf.String())
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("loud", "DEV", &buf)
	logger.Info().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

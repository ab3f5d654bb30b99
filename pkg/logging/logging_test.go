package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/logging"
)

func TestSetupJSONWritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logging.Setup(logging.Options{Level: "debug", Format: "json", Output: &buf}))
	slog.Info("hello", "key", "value")
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"key":"value"`)
}

func TestSetupTintWritesColorizedText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logging.Setup(logging.Options{Level: "info", Format: "tint", Output: &buf}))
	slog.Info("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestSetupRejectsInvalidLevel(t *testing.T) {
	require.Error(t, logging.Setup(logging.Options{Level: "verbose"}))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, logging.ParseLevel("nonsense"))
	require.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
}

package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output carries attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithJSONFormatter(),
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "test")),
		)

		log.Info("pool warmed", logger.App("shop"), logger.Count("workers", 4))

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "pool warmed", rec["msg"])
		assert.Equal(t, "test", rec["service"])
		assert.Equal(t, "shop", rec["app"])
		assert.EqualValues(t, 4, rec["workers"])
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))
		log.Info("hidden")
		assert.Empty(t, buf.String())

		log.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("from config", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.NewFromConfig(logger.Config{Level: "debug", Format: "json", App: "svc"}, logger.WithOutput(&buf))
		log.Debug("debug record")
		assert.Contains(t, buf.String(), `"service":"svc"`)
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))
	assert.Equal(t, "errors", logger.Errors(nil, errors.New("x")).Key)
	assert.Equal(t, slog.Attr{}, logger.App(""))
	assert.Equal(t, "abcdefgh...", logger.SessionID("abcdefghijklmnop").Value.String())
	assert.Equal(t, "short", logger.SessionID("short").Value.String())
	assert.Equal(t, slog.Attr{}, logger.Panic(nil))
}

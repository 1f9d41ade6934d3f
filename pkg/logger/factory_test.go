package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Run("defaults to json at info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Debug("hidden")
		log.Info("promo applied", logger.PromoCode("SARAH1"))

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "promo applied", entry["msg"])
		assert.Equal(t, "SARAH1", entry["promo_code"])
	})

	t.Run("last formatter wins", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithTextFormatter(),
			logger.WithJSONFormatter(),
		)
		log.Info("hello")
		assert.Equal(t, "hello", decode(t, buf)["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithAttr(logger.Component("sweeper")),
		)
		log.Info("tick")
		assert.Equal(t, "sweeper", decode(t, buf)["component"])
	})

	t.Run("context extractors", func(t *testing.T) {
		buf := &bytes.Buffer{}
		type key string
		ctxKey := key("request_id")
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
				if v, ok := ctx.Value(ctxKey).(string); ok {
					return logger.RequestID(v), true
				}
				return slog.Attr{}, false
			}),
			logger.WithContextValue("tenant", key("tenant")),
		)

		ctx := context.WithValue(context.Background(), ctxKey, "req-42")
		ctx = context.WithValue(ctx, key("tenant"), "bloomnest")
		log.InfoContext(ctx, "resolved")

		entry := decode(t, buf)
		assert.Equal(t, "req-42", entry["request_id"])
		assert.Equal(t, "bloomnest", entry["tenant"])
	})

	t.Run("context attrs", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))

		ctx := logger.ContextWithAttrs(context.Background(), logger.UserID("u1"))
		ctx = logger.ContextWithAttrs(ctx, logger.Component("http"))
		log.With(logger.Feature("baby_names")).InfoContext(ctx, "gated")

		entry := decode(t, buf)
		assert.Equal(t, "u1", entry["user_id"])
		assert.Equal(t, "http", entry["component"])
		assert.Equal(t, "baby_names", entry["feature"])
	})

	t.Run("level option", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestSetAsDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}

func TestWithFormatPanics(t *testing.T) {
	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(&Config{Level: "info", Format: "json", ServiceName: "clawdice"}, &buf))

	Info("bet placed", zap.String("bet_id", "42"))
	Debug("hidden")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "bet placed", line["msg"])
	assert.Equal(t, "42", line["bet_id"])
	assert.Equal(t, "clawdice", line["service"])
}

func TestInitWithWriter_BadLevel(t *testing.T) {
	err := InitWithWriter(&Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(&Config{Level: "warn"}, &buf))
	Info("dropped")
	assert.Zero(t, buf.Len())

	SetLevel("debug")
	Debug("kept")
	assert.Contains(t, buf.String(), "kept")
	SetLevel("info")
}

func TestNewContext(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(&Config{Level: "info"}, &buf))

	ctx := NewContext(context.Background(), zap.String("flow_id", "f-1"))
	ctx = NewContext(ctx, zap.String("bet_id", "7"))
	WithContext(ctx).Info("claiming")

	assert.Contains(t, buf.String(), `"flow_id":"f-1"`)
	assert.Contains(t, buf.String(), `"bet_id":"7"`)
}

package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.Info("engine opened").Str("dir", "/tmp/x").Send()

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "engine opened", decoded["msg"])
	require.Equal(t, "kv", decoded["service"])
	require.Equal(t, "/tmp/x", decoded["dir"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "error", Output: &buf})

	l.Info("should be dropped").Send()
	require.Zero(t, buf.Len())

	l.Error("should appear").Send()
	require.NotZero(t, buf.Len())
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})
	sub := l.Component("compaction")

	sub.Info("ran").Send()

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "compaction", decoded["component"])
}

func TestLogOperationReportsError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.LogOperation("flush", 2*time.Millisecond, errBoom)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "error", decoded["level"])
	require.Equal(t, "flush", decoded["operation"])
}

var errBoom = &testErr{"boom"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "msg", Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder_Fields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zap.String("api_key", "sk-abc"),
		zap.String("Authorization", "Bearer xyz"),
		zap.String("goal", "build a todo app"),
	)

	assert.NotContains(t, out, "sk-abc")
	assert.NotContains(t, out, "xyz")
	assert.Contains(t, out, "build a todo app")
}

func TestRedactingEncoder_Patterns(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, zap.String("error", "401 invalid key sk-proj1234567890"))
	assert.NotContains(t, out, "sk-proj1234567890")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("token", "t0k3n")
	assert.NotContains(t, encode(t, child), "t0k3n")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)
	assert.Contains(t, encode(t, enc, zap.String("token", "visible")), "visible")
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	require.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("provider_key", config.Secret("sk-12345"))
	assert.Equal(t, "[REDACTED:8]", f.String)

	f = Secret("provider_key", "")
	assert.Equal(t, "", f.String)
}

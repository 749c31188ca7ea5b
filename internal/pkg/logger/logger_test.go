package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := SetOutput(buf)
	t.Cleanup(func() { SetOutput(prev) })
	return buf
}

func TestLog_RedactsEmailAndPhone(t *testing.T) {
	buf := captureLog(t)

	Info("[Outreach] sent", "email", "john.doe@example.com", "phone", "+1 555 123 4567", "note", "reach bob@corp.io")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***4567", entry["phone"])
	assert.Equal(t, "reach bo***@corp.io", entry["note"])
}

func TestLog_BelowLevelIsDropped(t *testing.T) {
	buf := captureLog(t)
	SetLevel(WARN)
	t.Cleanup(func() { SetLevel(INFO) })

	Info("quiet")
	assert.Zero(t, buf.Len())

	Warn("loud")
	assert.Contains(t, buf.String(), `"msg":"loud"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestLog_IDsAreNotTreatedAsPhones(t *testing.T) {
	buf := captureLog(t)

	Info("tick", "customer_id", "550e8400-e29b-41d4-a716-446655440000", "to", "+44 20 7946 0958")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", entry["customer_id"])
	assert.Equal(t, "***0958", entry["to"])
}

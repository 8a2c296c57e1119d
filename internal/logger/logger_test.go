package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf)
	t.Cleanup(func() { Init(false, nil) })

	Source("audit").WithField("event_id", "abc").Info("flushed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["source"])
	assert.Equal(t, "abc", line["event_id"])
	assert.Equal(t, "flushed", line["msg"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf)
	t.Cleanup(func() { Init(false, nil) })

	Log().Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

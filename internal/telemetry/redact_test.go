package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSON(t *testing.T) {
	raw := json.RawMessage(`{"api_key":"sk-123","nested":{"Authorization":"Bearer xyz"},"keep":"value","list":[{"token":"abc"}]}`)
	out := RedactJSON(raw)

	var v map[string]any
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Equal(t, "[REDACTED]", v["api_key"])
	assert.Equal(t, "value", v["keep"])

	nested := v["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["Authorization"])

	list := v["list"].([]any)
	item := list[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", item["token"])
}

func TestRedactJSONInvalid(t *testing.T) {
	raw := json.RawMessage(`not json`)
	assert.Equal(t, raw, RedactJSON(raw))
}

func TestRedactJSONEmpty(t *testing.T) {
	assert.Nil(t, RedactJSON(nil))
}

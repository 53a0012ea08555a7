package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`{"pass": true, "confidence": 0.92, "reason": "login form visible"}`)
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.Equal(t, 0.92, v.Confidence)
	assert.Equal(t, "login form visible", v.Reason)
}

func TestParseVerdictMalformed(t *testing.T) {
	_, err := parseVerdict(`the screen looks fine to me`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed verdict")
}

func TestParseVerdictConfidenceRange(t *testing.T) {
	_, err := parseVerdict(`{"pass": false, "confidence": 1.4, "reason": "x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestVerdictSchemaIsStrict(t *testing.T) {
	schema := generateSchema[Verdict]()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	require.Contains(t, schema, "properties")
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "pass")
	assert.Contains(t, props, "confidence")
	assert.Contains(t, props, "reason")
	assert.Len(t, schema["required"], 3)
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,aGk=", dataURI([]byte("hi"), "image/jpeg"))
	// Missing MIME types default to PNG, the frame capture format.
	assert.Equal(t, "data:image/png;base64,aGk=", dataURI([]byte("hi"), ""))
}

func TestBuildParams(t *testing.T) {
	params := buildParams("gpt-4o-mini", []byte{0x89, 0x50}, "image/png", "settings screen visible")
	assert.Equal(t, "gpt-4o-mini", string(params.Model))
	require.NotNil(t, params.Text.Format.OfJSONSchema)
	assert.Equal(t, "ScreenVerdict", params.Text.Format.OfJSONSchema.Name)
	require.Len(t, params.Input.OfInputItemList, 1)
}

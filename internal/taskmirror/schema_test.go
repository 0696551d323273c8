package taskmirror

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidateTaskList(t *testing.T) {
	schemas := NewSchemaSet()

	valid := json.RawMessage(`[{"id":"t1","title":"ok","status":"pending","extra_field":42}]`)
	assert.NoError(t, schemas.Validate(EnvelopeTasksUpdated, valid),
		"unknown fields stay open for forward compatibility")

	missingID := json.RawMessage(`[{"title":"no id","status":"pending"}]`)
	assert.Error(t, schemas.Validate(EnvelopeTasksUpdated, missingID))

	notAList := json.RawMessage(`{"id":"t1"}`)
	assert.Error(t, schemas.Validate(EnvelopeTasksUpdated, notAList))

	garbage := json.RawMessage(`{"unterminated`)
	assert.Error(t, schemas.Validate(EnvelopeTasksUpdated, garbage))
}

func TestSchemaValidateInit(t *testing.T) {
	schemas := NewSchemaSet()

	require.NoError(t, schemas.Validate(EnvelopeInit,
		json.RawMessage(`{"tasks":[],"stats":{},"services":[]}`)))
	assert.Error(t, schemas.Validate(EnvelopeInit, json.RawMessage(`{"tasks":[]}`)),
		"init without stats is malformed")
}

func TestSchemaValidateActivityIDsAreIntegers(t *testing.T) {
	schemas := NewSchemaSet()
	require.NoError(t, schemas.Validate(EnvelopeActivity,
		json.RawMessage(`[{"id":12,"task_id":"t1","message":"x"}]`)))
	assert.Error(t, schemas.Validate(EnvelopeActivity,
		json.RawMessage(`[{"id":"12","task_id":"t1"}]`)))
}

func TestSchemaValidateUnknownTypePasses(t *testing.T) {
	schemas := NewSchemaSet()
	assert.NoError(t, schemas.Validate("future_type", json.RawMessage(`{"whatever":1}`)))
}

package taskmirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Payload schemas for the recognized envelope types. The authority does not
// version its protocol, so validation stays deliberately shallow: it pins
// the container shape and the identifier fields the merge engine keys on,
// and leaves everything else open. A recognized type whose payload fails
// validation is dropped (and logged) instead of being undefined behavior.

const (
	taskItemSchema = `{
		"type": "object",
		"required": ["id", "title", "status"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"status": {"type": "string"}
		}
	}`

	initSchema = `{
		"type": "object",
		"required": ["tasks", "stats"],
		"properties": {
			"tasks": {"type": "array", "items": ` + taskItemSchema + `},
			"stats": {"type": "object"},
			"services": {"type": "array"}
		}
	}`

	taskListSchema = `{"type": "array", "items": ` + taskItemSchema + `}`

	statsSchema = `{"type": "object"}`

	activitySchema = `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "task_id"],
			"properties": {
				"id": {"type": "integer"},
				"task_id": {"type": "string", "minLength": 1}
			}
		}
	}`

	questionsSchema = `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "task_id", "question"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"task_id": {"type": "string", "minLength": 1},
				"question": {"type": "string"}
			}
		}
	}`

	processesSchema = `{"type": "object"}`

	servicesSchema = `{"type": "array", "items": {"type": "object"}}`
)

// SchemaSet holds the compiled payload validators keyed by envelope type.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaSet compiles the built-in schemas. The sources are constants, so
// a compile failure is a programming error and panics at construction.
func NewSchemaSet() *SchemaSet {
	sources := map[string]string{
		EnvelopeInit:         initSchema,
		EnvelopeTasksUpdated: taskListSchema,
		EnvelopeStats:        statsSchema,
		EnvelopeActivity:     activitySchema,
		EnvelopeQuestions:    questionsSchema,
		EnvelopeProcesses:    processesSchema,
		EnvelopeServices:     servicesSchema,
	}
	compiler := jsonschema.NewCompiler()
	for name, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("taskmirror: schema %s: %v", name, err))
		}
		if err := compiler.AddResource(schemaURL(name), doc); err != nil {
			panic(fmt.Sprintf("taskmirror: schema %s: %v", name, err))
		}
	}
	set := &SchemaSet{schemas: make(map[string]*jsonschema.Schema, len(sources))}
	for name := range sources {
		schema, err := compiler.Compile(schemaURL(name))
		if err != nil {
			panic(fmt.Sprintf("taskmirror: schema %s: %v", name, err))
		}
		set.schemas[name] = schema
	}
	return set
}

// Validate checks a raw payload against the schema for the envelope type.
// Types without a schema pass: unknown types are a forward-compatible no-op
// handled by the router.
func (s *SchemaSet) Validate(envelopeType string, payload json.RawMessage) error {
	if s == nil {
		return nil
	}
	schema, ok := s.schemas[envelopeType]
	if !ok {
		return nil
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelopeType, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("validate %s payload: %w", envelopeType, err)
	}
	return nil
}

func schemaURL(name string) string {
	return "mem://taskmirror/" + name + ".json"
}

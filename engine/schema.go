package engine

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

const schemaURL = "mem://plumb/source-schema.json"

type recordSchema struct {
	schema *jsonschema.Schema
}

// compileSchema compiles a source's JSON schema document
func compileSchema(doc map[string]interface{}) (*recordSchema, error) {
	// Round-trip so the compiler sees plain JSON values whatever decoded the definition
	normalized, err := toJSONValue(doc)
	if err != nil {
		return nil, errors.NewValidationError("source schema is not valid JSON: %v", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, normalized); err != nil {
		return nil, errors.NewValidationError("failed to add source schema: %v", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, errors.NewValidationError("failed to compile source schema: %v", err)
	}
	return &recordSchema{schema: schema}, nil
}

func (s *recordSchema) validate(rec pipeline.Record) error {
	v, err := toJSONValue(rec)
	if err != nil {
		return errors.Wrap(err, "record is not JSON-serializable")
	}
	return s.schema.Validate(v)
}

// ValidateSchema reports whether doc compiles as a JSON schema
func ValidateSchema(doc map[string]interface{}) error {
	if len(doc) == 0 {
		return nil
	}
	_, err := compileSchema(doc)
	return err
}

func toJSONValue(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

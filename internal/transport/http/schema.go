package httptransport

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const decisionRequestSchema = "ai_decision_request.schema.json"

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	return compiler.Compile(name)
}

// mustCompileSchema is for the embedded schemas, which are fixed at build
// time.
func mustCompileSchema(name string) *jsonschema.Schema {
	s, err := compileSchema(name)
	if err != nil {
		panic(err)
	}
	return s
}

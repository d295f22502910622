package actions

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/digideskio/pallet/pkg/schema"
)

// argSchema validates the options-map argument of an action against a JSON
// Schema compiled once at registration.
type argSchema struct {
	compiled *jsonschema.Schema
}

func compileArgSchema(name, schemaJSON string) (*argSchema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"action %q: unmarshal argument schema: %s", name, err.Error()).WithCause(err)
	}

	url := fmt.Sprintf("pallet:///actions/%s.json", name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"action %q: add schema resource: %s", name, err.Error()).WithCause(err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"action %q: compile argument schema: %s", name, err.Error()).WithCause(err)
	}

	return &argSchema{compiled: compiled}, nil
}

// ValidateArgs checks the first argument against the ref's argument schema
// when one was registered and the argument is an options map. Positional
// non-map arguments are not schema-checked.
func (r *Ref) ValidateArgs(args []any) error {
	if r.argSchema == nil || len(args) == 0 {
		return nil
	}
	opts, ok := args[0].(map[string]any)
	if !ok {
		return nil
	}
	if err := r.argSchema.compiled.Validate(opts); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action %q: invalid arguments: %s", r.name, err.Error()).WithCause(err)
	}
	return nil
}

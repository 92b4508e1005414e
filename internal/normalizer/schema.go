package normalizer

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed order.schema.json
var orderSchema []byte

const orderSchemaURL = "https://order-migrator.local/schemas/order.schema.json"

func compileOrderSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(orderSchema))
	if err != nil {
		return nil, fmt.Errorf("parse order schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(orderSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add order schema: %w", err)
	}
	sch, err := c.Compile(orderSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile order schema: %w", err)
	}
	return sch, nil
}

// validate checks one raw record against the order schema and returns a
// single-line reason on failure.
func validate(sch *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%s", strings.Join(strings.Fields(err.Error()), " "))
	}
	return nil
}

package analysis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// invoiceSchemaJSON describes the object the model is asked to return. Text
// fields tolerate numbers and amounts tolerate strings because models emit
// both; the mapping step normalizes them.
const invoiceSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "vendor": {
      "type": ["object", "string", "null"],
      "properties": {
        "name": {"$ref": "#/$defs/text"},
        "email": {"$ref": "#/$defs/text"},
        "address": {"$ref": "#/$defs/text"},
        "tax_id": {"$ref": "#/$defs/text"}
      }
    },
    "vendor_name": {"$ref": "#/$defs/text"},
    "invoice_number": {"$ref": "#/$defs/text"},
    "po_number": {"$ref": "#/$defs/text"},
    "invoice_date": {"$ref": "#/$defs/text"},
    "due_date": {"$ref": "#/$defs/text"},
    "currency": {"$ref": "#/$defs/text"},
    "payment_terms": {"$ref": "#/$defs/text"},
    "subtotal": {"$ref": "#/$defs/amount"},
    "tax_total": {"$ref": "#/$defs/amount"},
    "discount": {"$ref": "#/$defs/amount"},
    "total": {"$ref": "#/$defs/amount"},
    "financial_summary": {
      "type": ["object", "null"],
      "properties": {
        "subtotal": {"$ref": "#/$defs/amount"},
        "tax_total": {"$ref": "#/$defs/amount"},
        "discount": {"$ref": "#/$defs/amount"},
        "total": {"$ref": "#/$defs/amount"}
      }
    },
    "line_items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "description": {"$ref": "#/$defs/text"},
          "quantity": {"$ref": "#/$defs/amount"},
          "unit_price": {"$ref": "#/$defs/amount"},
          "amount": {"$ref": "#/$defs/amount"},
          "total": {"$ref": "#/$defs/amount"},
          "tax_amount": {"$ref": "#/$defs/amount"}
        }
      }
    },
    "confidence": {
      "type": ["object", "null"],
      "properties": {
        "overall": {"$ref": "#/$defs/amount"},
        "notes": {"$ref": "#/$defs/text"}
      }
    }
  },
  "$defs": {
    "text": {"type": ["string", "number", "null"]},
    "amount": {"type": ["number", "string", "null"]}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func invoiceSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("invoice.schema.json", strings.NewReader(invoiceSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("invoice.schema.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateAgainstSchema checks a decoded JSON document against the invoice schema.
func validateAgainstSchema(doc any) error {
	schema, err := invoiceSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

package ai

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// invoiceSchema constrains the model's JSON response before any field is
// trusted. Amounts are accepted as numbers or strings (models occasionally
// quote them); confidences are bounded 0-100.
const invoiceSchema = `{
  "type": "object",
  "required": ["invoice_number", "issue_date", "net_amount", "vat_amount", "gross_amount", "currency", "seller", "buyer", "confidence"],
  "properties": {
    "invoice_number": {"type": ["string", "null"]},
    "issue_date": {"type": ["string", "null"]},
    "due_date": {"type": ["string", "null"]},
    "net_amount": {"type": ["number", "string", "null"]},
    "vat_amount": {"type": ["number", "string", "null"]},
    "gross_amount": {"type": ["number", "string", "null"]},
    "currency": {"type": ["string", "null"]},
    "seller": {
      "type": "object",
      "properties": {
        "name": {"type": ["string", "null"]},
        "nip": {"type": ["string", "null"]}
      }
    },
    "buyer": {
      "type": "object",
      "properties": {
        "name": {"type": ["string", "null"]},
        "nip": {"type": ["string", "null"]}
      }
    },
    "confidence": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 100}
    }
  }
}`

var compiledInvoiceSchema = jsonschema.MustCompileString("invoice.schema.json", invoiceSchema)

package analysis

import "strings"

const systemPrompt = `You are an expert invoice data extraction assistant. You read the OCR text of a single vendor invoice and return its fields as JSON.

Rules:
- Return ONLY one valid JSON object, no explanation and no markdown.
- Use null for fields that are not on the invoice. Never invent values.
- Dates must use the YYYY-MM-DD format.
- Amounts are plain numbers without currency symbols. Read European formats such as 1.234,56 correctly.
- currency is an ISO 4217 code such as USD, EUR or GBP.
- confidence.overall is your confidence in the whole extraction between 0 and 1. Put doubts about specific fields in confidence.notes.`

const responseShape = `{
  "vendor": {
    "name": "string",
    "email": "string or null",
    "address": "string or null",
    "tax_id": "string or null"
  },
  "invoice_number": "string",
  "po_number": "string or null",
  "invoice_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD or null",
  "currency": "USD",
  "payment_terms": "string or null",
  "subtotal": 0.00,
  "tax_total": 0.00,
  "discount": 0.00,
  "total": 0.00,
  "line_items": [
    {
      "description": "string",
      "quantity": 0,
      "unit_price": 0.00,
      "amount": 0.00
    }
  ],
  "confidence": {
    "overall": 0.95,
    "notes": "Any concerns or low-confidence fields"
  }
}`

func buildUserPrompt(ocrText string) string {
	var prompt strings.Builder

	prompt.WriteString("Extract the invoice fields from this OCR text.\n\n")
	prompt.WriteString("OCR Text:\n")
	prompt.WriteString(ocrText)
	prompt.WriteString("\n\nReturn JSON in exactly this shape:\n")
	prompt.WriteString(responseShape)

	return prompt.String()
}

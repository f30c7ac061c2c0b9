package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// ExtractionError marks a failed extraction: upstream error, empty response
// or a response that failed schema validation. The pipeline treats these as
// retriable; no retry happens inside the adapter.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extraction is the structured output of one extraction call.
type Extraction struct {
	Fields     models.ExtractedData
	Confidence models.ConfidenceScores
	Usage      TokenUsage
}

// Extractor sends raw OCR text to a generative provider and parses the
// JSON response into structured invoice data.
type Extractor struct {
	provider Provider
	log      zerolog.Logger
}

func NewExtractor(provider Provider, log zerolog.Logger) *Extractor {
	return &Extractor{provider: provider, log: log}
}

// Extract processes OCR text and returns structured invoice fields with
// per-field confidence scores and upstream token usage.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*Extraction, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, &ExtractionError{Reason: "empty input text"}
	}

	response, usage, err := e.provider.Complete(ctx, buildPrompt(rawText))
	if err != nil {
		return nil, &ExtractionError{Reason: "provider call failed", Err: err}
	}
	if strings.TrimSpace(response) == "" {
		return nil, &ExtractionError{Reason: "provider returned no content"}
	}

	extraction, err := parseResponse(response)
	if err != nil {
		return nil, err
	}
	extraction.Usage = usage

	e.log.Debug().
		Int("total_tokens", usage.TotalTokens).
		Str("invoice_number", extraction.Fields.InvoiceNumber).
		Msg("extraction parsed")
	return extraction, nil
}

func buildPrompt(ocrText string) string {
	return fmt.Sprintf(`You are an expert at reading Polish invoices (faktury VAT). Extract the
fields below from the OCR text of one invoice.

Return ONLY valid JSON (no markdown, no comments):
{
  "invoice_number": "the invoice number, e.g. FV/2024/03/123",
  "issue_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD or null",
  "net_amount": number (netto, 0 if unreadable),
  "vat_amount": number (VAT/podatek, 0 if unreadable),
  "gross_amount": number (brutto, total to pay, 0 if unreadable),
  "currency": "ISO 4217 code, e.g. PLN",
  "seller": {"name": "seller company name", "nip": "seller NIP, digits only"},
  "buyer": {"name": "buyer company name", "nip": "buyer NIP, digits only"},
  "confidence": {
    "invoice_number": 0-100, "issue_date": 0-100, "due_date": 0-100,
    "net_amount": 0-100, "vat_amount": 0-100, "gross_amount": 0-100,
    "currency": 0-100, "seller_nip": 0-100, "seller_name": 0-100,
    "buyer_nip": 0-100, "buyer_name": 0-100
  }
}

Rules:
1. NIP is exactly 10 digits; strip dashes and spaces ("123-456-78-90" -> "1234567890").
2. The seller (sprzedawca) issues the invoice; the buyer (nabywca) pays it. Never swap them.
3. gross = net + vat. NEVER invent amounts to force this; report what is printed.
4. Use null for unreadable text fields, 0 for unreadable amounts.
5. Each confidence value reflects how certain you are about THAT field only.

Invoice text:
%s`, ocrText)
}

// rawExtraction mirrors the model's JSON. Amounts are any-typed because
// models sometimes quote numbers or include thousands separators.
type rawExtraction struct {
	InvoiceNumber string `json:"invoice_number"`
	IssueDate     string `json:"issue_date"`
	DueDate       string `json:"due_date"`
	NetAmount     any    `json:"net_amount"`
	VATAmount     any    `json:"vat_amount"`
	GrossAmount   any    `json:"gross_amount"`
	Currency      string `json:"currency"`
	Seller        struct {
		Name string `json:"name"`
		NIP  string `json:"nip"`
	} `json:"seller"`
	Buyer struct {
		Name string `json:"name"`
		NIP  string `json:"nip"`
	} `json:"buyer"`
	Confidence map[string]int `json:"confidence"`
}

func parseResponse(response string) (*Extraction, error) {
	cleaned := stripFences(response)

	// Schema validation first, on the generic document.
	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, &ExtractionError{Reason: "response is not valid JSON", Err: err}
	}
	if err := compiledInvoiceSchema.Validate(generic); err != nil {
		return nil, &ExtractionError{Reason: "response failed schema validation", Err: err}
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &ExtractionError{Reason: "response does not match invoice shape", Err: err}
	}

	fields := models.ExtractedData{
		InvoiceNumber: strings.TrimSpace(raw.InvoiceNumber),
		IssueDate:     normalizeDate(raw.IssueDate),
		DueDate:       normalizeDate(raw.DueDate),
		NetAmount:     parseDecimal(raw.NetAmount),
		VATAmount:     parseDecimal(raw.VATAmount),
		GrossAmount:   parseDecimal(raw.GrossAmount),
		Currency:      strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Seller:        models.Party{Name: strings.TrimSpace(raw.Seller.Name), NIP: digitsOnly(raw.Seller.NIP)},
		Buyer:         models.Party{Name: strings.TrimSpace(raw.Buyer.Name), NIP: digitsOnly(raw.Buyer.NIP)},
	}

	conf := models.ConfidenceScores{
		InvoiceNumber: raw.Confidence["invoice_number"],
		IssueDate:     raw.Confidence["issue_date"],
		DueDate:       raw.Confidence["due_date"],
		NetAmount:     raw.Confidence["net_amount"],
		VATAmount:     raw.Confidence["vat_amount"],
		GrossAmount:   raw.Confidence["gross_amount"],
		Currency:      raw.Confidence["currency"],
		SellerNIP:     raw.Confidence["seller_nip"],
		SellerName:    raw.Confidence["seller_name"],
		BuyerNIP:      raw.Confidence["buyer_nip"],
		BuyerName:     raw.Confidence["buyer_name"],
	}

	return &Extraction{Fields: fields, Confidence: conf}, nil
}

func stripFences(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

var dateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	time.RFC3339,
}

// normalizeDate accepts the date formats seen on Polish invoices and returns
// YYYY-MM-DD, or "" when the value is absent or unparseable.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return ""
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// parseDecimal handles numbers, quoted numbers, and thousands separators.
func parseDecimal(v any) decimal.Decimal {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(val), " ", "")
		cleaned = strings.ReplaceAll(cleaned, " ", "")
		if strings.Contains(cleaned, ",") {
			if strings.Contains(cleaned, ".") {
				// "1,234.56" style: comma is a thousands separator.
				cleaned = strings.ReplaceAll(cleaned, ",", "")
			} else {
				// Polish "1234,56" style: comma is the decimal separator.
				cleaned = strings.ReplaceAll(cleaned, ",", ".")
			}
		}
		if cleaned == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

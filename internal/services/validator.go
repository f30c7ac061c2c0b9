package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// ValidationResult is the outcome of checking extracted invoice data.
// Errors are data-quality findings, not processing failures: an invoice
// with errors still completes the pipeline and is routed to review.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// nipPattern matches a Polish NIP: exactly 10 digits.
var nipPattern = regexp.MustCompile(`^\d{10}$`)

// amountTolerance is one unit of currency, the rounding slack allowed
// between gross and net+vat.
var amountTolerance = decimal.NewFromInt(1)

// ValidateExtraction checks extracted fields for completeness, tax-ID format
// and arithmetic consistency. All violated checks are collected so the
// caller sees the complete list. Pure; no side effects.
func ValidateExtraction(fields models.ExtractedData) ValidationResult {
	var errs []string

	if strings.TrimSpace(fields.InvoiceNumber) == "" {
		errs = append(errs, "invoice number is missing")
	}
	if fields.IssueDate == "" {
		errs = append(errs, "issue date is missing")
	}
	if !nipPattern.MatchString(fields.Seller.NIP) {
		errs = append(errs, fmt.Sprintf("seller NIP %q is not a valid 10-digit tax ID", fields.Seller.NIP))
	}
	if !nipPattern.MatchString(fields.Buyer.NIP) {
		errs = append(errs, fmt.Sprintf("buyer NIP %q is not a valid 10-digit tax ID", fields.Buyer.NIP))
	}

	expected := fields.NetAmount.Add(fields.VATAmount)
	if fields.GrossAmount.Sub(expected).Abs().GreaterThan(amountTolerance) {
		errs = append(errs, fmt.Sprintf(
			"gross amount %s does not match net %s + VAT %s (difference exceeds 1 unit)",
			fields.GrossAmount.StringFixed(2), fields.NetAmount.StringFixed(2), fields.VATAmount.StringFixed(2)))
	}

	if fields.NetAmount.IsNegative() {
		errs = append(errs, "net amount is negative")
	}
	if fields.VATAmount.IsNegative() {
		errs = append(errs, "VAT amount is negative")
	}
	if fields.GrossAmount.IsNegative() {
		errs = append(errs, "gross amount is negative")
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle status of a tenant-owned invoice document.
type InvoiceStatus string

const (
	InvoiceUploaded        InvoiceStatus = "UPLOADED"
	InvoiceUploadedWithOCR InvoiceStatus = "UPLOADED_WITH_OCR"
	InvoiceProcessing      InvoiceStatus = "PROCESSING"
	InvoiceExtracted       InvoiceStatus = "EXTRACTED"
	InvoiceNeedsReview     InvoiceStatus = "NEEDS_REVIEW"
	InvoiceVerified        InvoiceStatus = "VERIFIED"
	InvoiceFailed          InvoiceStatus = "FAILED"
)

// Processable reports whether an invoice in this status may enter the
// extraction pipeline. Anything else is already processed or terminal.
func (s InvoiceStatus) Processable() bool {
	return s == InvoiceUploaded || s == InvoiceUploadedWithOCR
}

// Party identifies one side of an invoice (seller or buyer).
type Party struct {
	Name string `json:"name"`
	NIP  string `json:"nip"`
}

// ExtractedData holds the structured fields produced by AI extraction.
// Dates are normalized to YYYY-MM-DD strings before they reach this struct.
type ExtractedData struct {
	InvoiceNumber string          `json:"invoice_number"`
	IssueDate     string          `json:"issue_date"`
	DueDate       string          `json:"due_date,omitempty"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	Currency      string          `json:"currency"`
	Seller        Party           `json:"seller"`
	Buyer         Party           `json:"buyer"`
}

// ConfidenceScores holds per-field extraction confidence, 0-100.
type ConfidenceScores struct {
	InvoiceNumber int `json:"invoice_number"`
	IssueDate     int `json:"issue_date"`
	DueDate       int `json:"due_date"`
	NetAmount     int `json:"net_amount"`
	VATAmount     int `json:"vat_amount"`
	GrossAmount   int `json:"gross_amount"`
	Currency      int `json:"currency"`
	SellerNIP     int `json:"seller_nip"`
	SellerName    int `json:"seller_name"`
	BuyerNIP      int `json:"buyer_nip"`
	BuyerName     int `json:"buyer_name"`
}

// Map returns the scores keyed by field name, the shape the confidence
// scorer and the correction ledger operate on.
func (c ConfidenceScores) Map() map[string]int {
	return map[string]int{
		"invoice_number": c.InvoiceNumber,
		"issue_date":     c.IssueDate,
		"due_date":       c.DueDate,
		"net_amount":     c.NetAmount,
		"vat_amount":     c.VATAmount,
		"gross_amount":   c.GrossAmount,
		"currency":       c.Currency,
		"seller_nip":     c.SellerNIP,
		"seller_name":    c.SellerName,
		"buyer_nip":      c.BuyerNIP,
		"buyer_name":     c.BuyerName,
	}
}

// Invoice is a tenant-owned document record carrying the upload reference,
// the extraction result and the review/approval trail.
type Invoice struct {
	ID       uuid.UUID     `json:"id"`
	TenantID uuid.UUID     `json:"tenant_id"`
	FileRef  string        `json:"file_ref"`
	Status   InvoiceStatus `json:"status"`

	Extracted         *ExtractedData    `json:"extracted,omitempty"`
	Confidence        *ConfidenceScores `json:"confidence,omitempty"`
	OverallConfidence int               `json:"overall_confidence"`
	RawText           string            `json:"raw_text,omitempty"`

	// Client-supplied OCR, present when the upload was made from a device
	// that already ran recognition locally. When set, the pipeline skips
	// server-side OCR entirely.
	ClientOCRText       string `json:"client_ocr_text,omitempty"`
	ClientOCRConfidence int    `json:"client_ocr_confidence,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy  *uuid.UUID `json:"reviewed_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  *uuid.UUID `json:"approved_by,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// HasClientOCR reports whether the upload carried device-side OCR output.
func (i *Invoice) HasClientOCR() bool {
	return i.ClientOCRText != ""
}

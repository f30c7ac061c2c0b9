package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

var (
	// ErrInvoiceApproved signals an attempt to edit or re-approve an
	// approved invoice. Approved invoices are immutable.
	ErrInvoiceApproved = errors.New("invoice is already approved")
	// ErrInvoiceNotReviewed gates approval on a prior review.
	ErrInvoiceNotReviewed = errors.New("invoice has not been reviewed")
	// ErrNoExtraction means the invoice has no extracted data to correct.
	ErrNoExtraction = errors.New("invoice has no extracted data")
	// ErrInvalidCorrection covers unknown field paths, unsupported path
	// depth and unparseable amount values.
	ErrInvalidCorrection = errors.New("invalid correction")
)

// confidenceKeys maps a correctable field path to its confidence-score key.
// Currency has no score of its own in older extractions, so the gross amount
// score stands in for it; kept as an explicit fallback rather than a guess.
var confidenceKeys = map[string]string{
	"invoice_number": "invoice_number",
	"issue_date":     "issue_date",
	"due_date":       "due_date",
	"net_amount":     "net_amount",
	"vat_amount":     "vat_amount",
	"gross_amount":   "gross_amount",
	"currency":       "gross_amount",
	"seller.name":    "seller_name",
	"seller.nip":     "seller_nip",
	"buyer.name":     "buyer_name",
	"buyer.nip":      "buyer_nip",
}

// CorrectionInput is one requested field edit.
type CorrectionInput struct {
	FieldName      string `json:"field_name"`
	CorrectedValue string `json:"corrected_value"`
	OriginalValue  string `json:"original_value,omitempty"`
}

// ReviewResult is returned after a successful correction batch.
type ReviewResult struct {
	Applied   int                  `json:"applied"`
	Extracted models.ExtractedData `json:"extracted"`
}

// InvoiceReviewStore is the slice of the invoice repository the review
// workflow needs.
type InvoiceReviewStore interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	UpdateReview(ctx context.Context, inv *models.Invoice) error
}

// CorrectionWriter appends immutable correction records. AppendBatch must
// write all records or none.
type CorrectionWriter interface {
	AppendBatch(ctx context.Context, records []*models.Correction) error
}

// ReviewService applies human corrections to extracted invoice data and
// handles the separate approval step.
type ReviewService struct {
	invoices    InvoiceReviewStore
	corrections CorrectionWriter
}

func NewReviewService(invoices InvoiceReviewStore, corrections CorrectionWriter) *ReviewService {
	return &ReviewService{invoices: invoices, corrections: corrections}
}

// SubmitCorrections applies a batch of field edits to a not-yet-approved
// invoice, appending one correction record per edit and stamping the review.
// The batch is all-or-nothing: one unknown path, a path deeper than two
// levels or an unparseable amount rejects the whole request, and the record
// writes go through a single AppendBatch call so a storage failure leaves no
// partial trail. Does not change the status to VERIFIED; that is Approve's
// job.
func (s *ReviewService) SubmitCorrections(ctx context.Context, tenantID, invoiceID, actor uuid.UUID, inputs []CorrectionInput, notes string) (*ReviewResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.ApprovedAt != nil {
		return nil, ErrInvoiceApproved
	}
	if inv.Extracted == nil {
		return nil, ErrNoExtraction
	}

	for _, in := range inputs {
		if err := checkFieldPath(in.FieldName); err != nil {
			return nil, err
		}
	}

	var scores map[string]int
	if inv.Confidence != nil {
		scores = inv.Confidence.Map()
	}

	records := make([]*models.Correction, 0, len(inputs))
	for _, in := range inputs {
		original := currentValue(inv.Extracted, in.FieldName)
		if in.OriginalValue != "" {
			original = in.OriginalValue
		}
		if err := applyValue(inv.Extracted, in.FieldName, in.CorrectedValue); err != nil {
			return nil, err
		}

		records = append(records, &models.Correction{
			InvoiceID:          inv.ID,
			TenantID:           inv.TenantID,
			FieldPath:          in.FieldName,
			OriginalValue:      original,
			CorrectedValue:     in.CorrectedValue,
			OriginalConfidence: scores[confidenceKeys[in.FieldName]],
			CorrectedBy:        actor,
			Notes:              notes,
		})
	}
	if err := s.corrections.AppendBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to append correction records: %w", err)
	}

	reviewedAt := time.Now().UTC()
	inv.ReviewedAt = &reviewedAt
	inv.ReviewedBy = &actor
	if err := s.invoices.UpdateReview(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}

	return &ReviewResult{Applied: len(inputs), Extracted: *inv.Extracted}, nil
}

// Approve freezes a reviewed invoice as VERIFIED. Requires reviewed_at to be
// set and approved_at to be unset.
func (s *ReviewService) Approve(ctx context.Context, tenantID, invoiceID, actor uuid.UUID) (*models.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.ApprovedAt != nil {
		return nil, ErrInvoiceApproved
	}
	if inv.ReviewedAt == nil {
		return nil, ErrInvoiceNotReviewed
	}

	approvedAt := time.Now().UTC()
	inv.ApprovedAt = &approvedAt
	inv.ApprovedBy = &actor
	inv.Status = models.InvoiceVerified
	if err := s.invoices.UpdateReview(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	return inv, nil
}

// checkFieldPath accepts only known one- or two-level dotted paths.
func checkFieldPath(path string) error {
	if strings.Count(path, ".") > 1 {
		return fmt.Errorf("%w: field path %q deeper than two levels", ErrInvalidCorrection, path)
	}
	if _, ok := confidenceKeys[path]; !ok {
		return fmt.Errorf("%w: unknown field path %q", ErrInvalidCorrection, path)
	}
	return nil
}

func currentValue(data *models.ExtractedData, path string) string {
	switch path {
	case "invoice_number":
		return data.InvoiceNumber
	case "issue_date":
		return data.IssueDate
	case "due_date":
		return data.DueDate
	case "net_amount":
		return data.NetAmount.String()
	case "vat_amount":
		return data.VATAmount.String()
	case "gross_amount":
		return data.GrossAmount.String()
	case "currency":
		return data.Currency
	case "seller.name":
		return data.Seller.Name
	case "seller.nip":
		return data.Seller.NIP
	case "buyer.name":
		return data.Buyer.Name
	case "buyer.nip":
		return data.Buyer.NIP
	}
	return ""
}

func applyValue(data *models.ExtractedData, path, value string) error {
	switch path {
	case "invoice_number":
		data.InvoiceNumber = value
	case "issue_date":
		data.IssueDate = value
	case "due_date":
		data.DueDate = value
	case "net_amount", "vat_amount", "gross_amount":
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%w: %q is not a valid amount for %s", ErrInvalidCorrection, value, path)
		}
		switch path {
		case "net_amount":
			data.NetAmount = d
		case "vat_amount":
			data.VATAmount = d
		case "gross_amount":
			data.GrossAmount = d
		}
	case "currency":
		data.Currency = value
	case "seller.name":
		data.Seller.Name = value
	case "seller.nip":
		data.Seller.NIP = value
	case "buyer.name":
		data.Buyer.Name = value
	case "buyer.nip":
		data.Buyer.NIP = value
	default:
		return fmt.Errorf("%w: unknown field path %q", ErrInvalidCorrection, path)
	}
	return nil
}

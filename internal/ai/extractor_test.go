package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	response string
	usage    TokenUsage
	err      error
	prompt   string
}

func (f *fakeProvider) Complete(_ context.Context, prompt string) (string, TokenUsage, error) {
	f.prompt = prompt
	return f.response, f.usage, f.err
}

const goodResponse = `{
	"invoice_number": "FV/2024/03/15",
	"issue_date": "15.03.2024",
	"due_date": "2024-03-29",
	"net_amount": "1 000,00",
	"vat_amount": 230,
	"gross_amount": 1230.00,
	"currency": "pln",
	"seller": {"name": " Alfa Sp. z o.o. ", "nip": "123-456-78-90"},
	"buyer": {"name": "Beta S.A.", "nip": "0987654321"},
	"confidence": {
		"invoice_number": 95, "issue_date": 90, "due_date": 85,
		"net_amount": 92, "vat_amount": 91, "gross_amount": 93,
		"currency": 99, "seller_nip": 88, "seller_name": 87,
		"buyer_nip": 86, "buyer_name": 85
	}
}`

func TestExtract(t *testing.T) {
	provider := &fakeProvider{
		response: goodResponse,
		usage:    TokenUsage{PromptTokens: 700, CompletionTokens: 120, TotalTokens: 820},
	}
	extractor := NewExtractor(provider, zerolog.Nop())

	result, err := extractor.Extract(context.Background(), "FAKTURA VAT nr FV/2024/03/15")
	require.NoError(t, err)

	assert.Equal(t, "FV/2024/03/15", result.Fields.InvoiceNumber)
	assert.Equal(t, "2024-03-15", result.Fields.IssueDate, "DD.MM.YYYY normalized")
	assert.Equal(t, "2024-03-29", result.Fields.DueDate)
	assert.True(t, result.Fields.NetAmount.Equal(decimal.NewFromInt(1000)), "separators stripped from quoted amount")
	assert.True(t, result.Fields.VATAmount.Equal(decimal.NewFromInt(230)))
	assert.Equal(t, "PLN", result.Fields.Currency)
	assert.Equal(t, "1234567890", result.Fields.Seller.NIP, "dashes stripped")
	assert.Equal(t, "Alfa Sp. z o.o.", result.Fields.Seller.Name, "whitespace trimmed")
	assert.Equal(t, 95, result.Confidence.InvoiceNumber)
	assert.Equal(t, 820, result.Usage.TotalTokens)

	assert.Contains(t, provider.prompt, "FAKTURA VAT nr FV/2024/03/15")
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	provider := &fakeProvider{response: "```json\n" + goodResponse + "\n```"}
	extractor := NewExtractor(provider, zerolog.Nop())

	result, err := extractor.Extract(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, "FV/2024/03/15", result.Fields.InvoiceNumber)
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name     string
		rawText  string
		response string
		err      error
	}{
		{
			name:    "empty input text",
			rawText: "   ",
		},
		{
			name:    "provider error",
			rawText: "text",
			err:     errors.New("rate limited"),
		},
		{
			name:     "empty response",
			rawText:  "text",
			response: "",
		},
		{
			name:     "response is not JSON",
			rawText:  "text",
			response: "I could not find an invoice in this text.",
		},
		{
			name:     "response fails schema validation",
			rawText:  "text",
			response: `{"invoice_number": "FV/1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{response: tt.response, err: tt.err}
			extractor := NewExtractor(provider, zerolog.Nop())

			_, err := extractor.Extract(context.Background(), tt.rawText)

			var extractionErr *ExtractionError
			require.Error(t, err)
			assert.ErrorAs(t, err, &extractionErr)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-15", "2024-03-15"},
		{"15.03.2024", "2024-03-15"},
		{"15/03/2024", "2024-03-15"},
		{"15-03-2024", "2024-03-15"},
		{"null", ""},
		{"", ""},
		{"piętnastego marca", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeDate(tt.in), "input %q", tt.in)
	}
}

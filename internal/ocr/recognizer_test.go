package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		document []byte
		want     string
		wantErr  bool
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "jpeg", false},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "png", false},
		{"gif", []byte("GIF89a"), "gif", false},
		{"tiff", []byte{0x49, 0x49, 0x2A, 0x00, 0x08}, "tiff", false},
		{"pdf", []byte("%PDF-1.7"), "pdf", false},
		{"webp", append([]byte("RIFF"), append([]byte{0, 0, 0, 0}, []byte("WEBP")...)...), "webp", false},
		{"plain text", []byte("hello world"), "", true},
		{"empty", nil, "", true},
		{"truncated riff", []byte("RIFF"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := DetectFormat(tt.document)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t40\t12\t96.5\tFAKTURA\n" +
	"5\t1\t1\t1\t1\t2\t55\t10\t20\t12\t88.5\tVAT\n" +
	"5\t1\t1\t1\t1\t3\t80\t10\t20\t12\t91.0\t \n"

func TestParseTSV(t *testing.T) {
	result := parseTSV(sampleTSV)

	assert.Equal(t, "FAKTURA VAT", result.Text, "structural rows and blank words skipped")
	assert.InDelta(t, 92.5, result.Confidence, 0.001, "mean of word confidences")
}

func TestParseTSVEmpty(t *testing.T) {
	result := parseTSV("")

	assert.Empty(t, result.Text)
	assert.Zero(t, result.Confidence)
}

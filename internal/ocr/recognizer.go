package ocr

import (
	"bytes"
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned when the input is neither a supported
// image nor a PDF page render.
var ErrUnsupportedFormat = errors.New("unsupported document format: expected image or PDF")

// Result is the output of text recognition.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Recognizer converts a document image into raw text plus a confidence score.
type Recognizer interface {
	Recognize(ctx context.Context, document []byte) (*Result, error)
}

var magicNumbers = map[string][]byte{
	"jpeg": {0xFF, 0xD8, 0xFF},
	"png":  {0x89, 0x50, 0x4E, 0x47},
	"gif":  []byte("GIF8"),
	"tiff": {0x49, 0x49, 0x2A, 0x00},
	"pdf":  []byte("%PDF"),
}

// DetectFormat sniffs the document's magic bytes and returns a short format
// name, or ErrUnsupportedFormat when the content is not image/PDF.
func DetectFormat(document []byte) (string, error) {
	for name, magic := range magicNumbers {
		if bytes.HasPrefix(document, magic) {
			return name, nil
		}
	}
	// WEBP: RIFF....WEBP
	if len(document) >= 12 && bytes.HasPrefix(document, []byte("RIFF")) && bytes.Equal(document[8:12], []byte("WEBP")) {
		return "webp", nil
	}
	return "", ErrUnsupportedFormat
}

package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TesseractOCR performs text recognition by shelling out to the tesseract
// binary. Input is preprocessed with ImageMagick first.
type TesseractOCR struct {
	language     string
	preprocessor *Preprocessor
	log          zerolog.Logger
}

// NewTesseractOCR creates a recognizer for the given tesseract language.
func NewTesseractOCR(language string, log zerolog.Logger) *TesseractOCR {
	if language == "" {
		language = "pol"
	}
	return &TesseractOCR{
		language:     language,
		preprocessor: NewPreprocessor(log),
		log:          log,
	}
}

// Recognize runs OCR on the document bytes and returns text plus the mean
// word confidence reported by tesseract (0-100).
func (t *TesseractOCR) Recognize(ctx context.Context, document []byte) (*Result, error) {
	if _, err := DetectFormat(document); err != nil {
		return nil, err
	}

	processed, err := t.preprocessor.Enhance(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("image preprocessing failed: %w", err)
	}

	inputFile := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_%s.jpg", uuid.New().String()[:8]))
	if err := os.WriteFile(inputFile, processed, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write OCR input: %w", err)
	}
	defer os.Remove(inputFile)

	// TSV output carries a per-word confidence column.
	cmd := exec.CommandContext(ctx, "tesseract", inputFile, "stdout", "-l", t.language, "tsv")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tesseract failed: %w", err)
	}

	result := parseTSV(string(output))
	t.log.Debug().
		Int("input_bytes", len(document)).
		Int("text_len", len(result.Text)).
		Float64("confidence", result.Confidence).
		Msg("server-side OCR finished")
	return result, nil
}

// parseTSV extracts recognized words and their confidences from tesseract
// TSV output. Confidence -1 marks structural rows, which carry no text.
func parseTSV(tsv string) *Result {
	var (
		words   []string
		confSum float64
		confN   int
	)
	for _, line := range strings.Split(tsv, "\n") {
		cols := strings.Split(line, "\t")
		if len(cols) < 12 || cols[0] == "level" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		confSum += conf
		confN++
	}

	res := &Result{Text: strings.Join(words, " ")}
	if confN > 0 {
		res.Confidence = confSum / float64(confN)
	}
	return res
}

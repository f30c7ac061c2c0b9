package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Preprocessor enhances an image for OCR using ImageMagick: resize,
// grayscale, contrast normalization, denoise, sharpen.
type Preprocessor struct {
	log zerolog.Logger
}

func NewPreprocessor(log zerolog.Logger) *Preprocessor {
	return &Preprocessor{log: log}
}

// Enhance applies the enhancement pipeline. If ImageMagick is unavailable or
// fails, the original image is returned so OCR can still be attempted.
func (p *Preprocessor) Enhance(ctx context.Context, imageData []byte) ([]byte, error) {
	id := uuid.New().String()[:8]
	inputFile := filepath.Join(os.TempDir(), fmt.Sprintf("pre_in_%s.jpg", id))
	outputFile := filepath.Join(os.TempDir(), fmt.Sprintf("pre_out_%s.jpg", id))

	if err := os.WriteFile(inputFile, imageData, 0o644); err != nil {
		return imageData, nil
	}
	defer os.Remove(inputFile)
	defer os.Remove(outputFile)

	args := []string{
		inputFile,
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		"-quality", "95",
		outputFile,
	}

	// 'magick' on ImageMagick 7, 'convert' on 6.
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.CommandContext(ctx, "magick", args...)
	} else {
		cmd = exec.CommandContext(ctx, "convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.log.Warn().Err(err).Str("stderr", stderr.String()).Msg("imagemagick failed, using original image")
		return imageData, nil
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil {
		return imageData, nil
	}

	p.log.Debug().Int("original_bytes", len(imageData)).Int("processed_bytes", len(processed)).Msg("image enhanced")
	return processed, nil
}

package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
)

// Input validation and sanitization utilities

var (
	ErrNotAnImage   = errors.New("file is not an image")
	ErrInvalidIndex = errors.New("invalid image index")
)

// ValidateImage checks that data sniffs as image/* and builds the domain value.
// Dimensions are filled when the format has a registered decoder; otherwise they stay zero.
func ValidateImage(name string, data []byte) (inspection.Image, error) {
	if len(data) == 0 {
		return inspection.Image{}, fmt.Errorf("%w: %s is empty", ErrNotAnImage, name)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return inspection.Image{}, fmt.Errorf("%w: %s detected as %s", ErrNotAnImage, name, mt.String())
	}

	img := inspection.Image{
		Name:     SanitizeFileName(name),
		MIMEType: mt.String(),
		Data:     data,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img, nil
}

// SanitizeFileName keeps only the base name of an uploaded file.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = SanitizeString(name)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

// ParseIndex parses a zero-based image index from a path segment.
func ParseIndex(raw string) (int, error) {
	k, err := strconv.Atoi(raw)
	if err != nil || k < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIndex, raw)
	}
	return k, nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

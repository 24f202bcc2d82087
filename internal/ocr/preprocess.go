package ocr

import (
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// enhanceForOCR applies a small enhancement chain to a rasterized page
// so tesseract gets cleaner glyph edges: grayscale, contrast boost,
// sharpen, slight brightness and gamma lift. The enhanced copy is
// written next to the original so the run cleanup removes both.
func enhanceForOCR(path string) (string, error) {
	src, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("open page image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)

	out := strings.TrimSuffix(path, ".png") + ".enh.png"
	if err := imaging.Save(img, out); err != nil {
		return "", fmt.Errorf("save enhanced image: %w", err)
	}
	return out, nil
}

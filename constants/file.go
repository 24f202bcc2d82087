package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for invoice upload.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// DefaultCurrency is the fallback ISO 4217 code when structuring cannot
// determine one.
const DefaultCurrency = "INR"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether the (possibly dotted, mixed-case)
// extension is accepted for upload.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// PDFMagic is the leading byte signature of a PDF document.
const PDFMagic = "%PDF-"

// LooksLikePDF does a cheap signature check on raw upload bytes.
func LooksLikePDF(b []byte) bool {
	return len(b) >= len(PDFMagic) && string(b[:len(PDFMagic)]) == PDFMagic
}

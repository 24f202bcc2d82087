package constants

// AdapterKind identifies one OCR/AI extraction backend.
type AdapterKind string

// Stable values. AdapterOrder below is the canonical enumeration order
// used for deterministic result merging; keep them in sync.
const (
	AdapterDocAI     AdapterKind = "docai"
	AdapterTesseract AdapterKind = "tesseract"
	AdapterGemini    AdapterKind = "gemini"
)

// AdapterOrder is the canonical merge order: structured cloud output
// first, then local OCR, then LLM text. Never reorder existing entries.
var AdapterOrder = []AdapterKind{AdapterDocAI, AdapterTesseract, AdapterGemini}

// AdapterRank returns the merge position of k, or len(AdapterOrder) for
// unknown kinds so they sort last.
func AdapterRank(k AdapterKind) int {
	for i, a := range AdapterOrder {
		if a == k {
			return i
		}
	}
	return len(AdapterOrder)
}

// IsValidAdapter reports whether k names a known adapter.
func IsValidAdapter(k AdapterKind) bool {
	return AdapterRank(k) < len(AdapterOrder)
}

package domain

import "time"

// ExtractionMethod records which strategy produced the final text.
type ExtractionMethod string

const (
	MethodText   ExtractionMethod = "text"   // native text extraction only
	MethodOCR    ExtractionMethod = "ocr"    // vision provider only
	MethodHybrid ExtractionMethod = "hybrid" // both available, longer one chosen
)

// ExtractionResult is the pipeline's output for one document.
type ExtractionResult struct {
	Text       string
	Confidence float64 // 0-1, provider-reported or heuristic
	Method     ExtractionMethod
	Provider   string // name of the provider that produced the text, empty for native
	Duration   time.Duration
}

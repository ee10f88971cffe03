package pipeline

import (
	"regexp"
	"strings"
)

// Patterns that indicate structured fiscal content. Finding them means the
// extracted text is probably the real document, not rendering garbage.
var (
	dateRe     = regexp.MustCompile(`\b\d{2}[/.-]\d{2}[/.-]\d{2,4}\b`)
	currencyRe = regexp.MustCompile(`R?\$\s?\d{1,3}(\.\d{3})*,\d{2}|\b\d+,\d{2}\b`)
	cnpjRe     = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)
	cpfRe      = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	nfeKeyRe   = regexp.MustCompile(`\b\d{44}\b`)
)

// scoreText rates extracted text on a 0-100 scale: volume (characters and
// words) plus structured patterns typical of fiscal documents.
func scoreText(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	score := 0

	chars := len(text)
	if chars > 600 {
		score += 30
	} else {
		score += chars / 20
	}

	words := len(strings.Fields(text))
	if words > 150 {
		score += 30
	} else {
		score += words / 5
	}

	if dateRe.MatchString(text) {
		score += 15
	}
	if currencyRe.MatchString(text) {
		score += 15
	}
	if cnpjRe.MatchString(text) || cpfRe.MatchString(text) || nfeKeyRe.MatchString(text) {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// qualityConfidence maps a quality score onto the 0-1 confidence scale
// used by OCR providers, so native and OCR results are comparable.
func qualityConfidence(score int) float64 {
	c := float64(score) / 100
	if c > 0.98 {
		c = 0.98
	}
	return c
}

package pipeline

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// extractNativeText pulls text straight out of the document's own
// structure, without any network call. It handles plain text/XML
// documents and PDFs with uncompressed text operators; anything else
// (scans, compressed streams) comes back empty and goes to OCR.
func extractNativeText(data []byte) string {
	if isPDF(data) {
		return extractPDFText(data)
	}
	if looksTextual(data) {
		return strings.TrimSpace(string(data))
	}
	return ""
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// looksTextual reports whether the payload is plausibly a text document:
// valid UTF-8, no NUL bytes, mostly printable.
func looksTextual(data []byte) bool {
	if len(data) == 0 || !utf8.Valid(data) {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	printable := 0
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b >= 0x20 || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) > 0.9
}

// extractPDFText scans content streams for text-showing operators and
// collects the literal strings they draw. Encrypted or flate-compressed
// streams produce nothing, which is fine: the pipeline escalates to OCR.
func extractPDFText(data []byte) string {
	var sb strings.Builder

	rest := data
	for {
		bt := bytes.Index(rest, []byte("BT"))
		if bt < 0 {
			break
		}
		et := bytes.Index(rest[bt:], []byte("ET"))
		if et < 0 {
			break
		}
		block := rest[bt : bt+et]
		collectPDFStrings(block, &sb)
		rest = rest[bt+et+2:]
	}

	return strings.TrimSpace(sb.String())
}

// collectPDFStrings appends the contents of (...) literals in a BT/ET
// block, handling nesting and backslash escapes.
func collectPDFStrings(block []byte, sb *strings.Builder) {
	depth := 0
	escaped := false
	wrote := false

	for i := 0; i < len(block); i++ {
		c := block[i]
		if depth == 0 {
			if c == '(' {
				depth = 1
			}
			continue
		}

		if escaped {
			switch c {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '(', ')', '\\':
				sb.WriteByte(c)
			}
			escaped = false
			wrote = true
			continue
		}

		switch c {
		case '\\':
			escaped = true
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteByte(c)
			}
			wrote = true
		default:
			sb.WriteByte(c)
			wrote = true
		}
	}

	if wrote {
		sb.WriteByte('\n')
	}
}

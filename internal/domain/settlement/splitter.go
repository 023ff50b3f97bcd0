package settlement

import "strings"

// DelimiterKind enumerates the ways a channel's lines split into fields.
type DelimiterKind int

const (
	DelimiterPipe DelimiterKind = iota
	DelimiterCaret
	DelimiterComma
	DelimiterWhitespace
	DelimiterPositional
	DelimiterMixedCaretPipe
)

// Symbol is the separator string reported to API clients for this kind.
func (k DelimiterKind) Symbol() string {
	switch k {
	case DelimiterPipe, DelimiterMixedCaretPipe:
		return "|"
	case DelimiterCaret:
		return "^"
	case DelimiterComma:
		return ","
	case DelimiterWhitespace:
		return " "
	default:
		return "fixed-width"
	}
}

// Split turns a raw line into its ordered field vector. Structured delimiters
// (pipe, caret, comma) keep empty fields so indices stay stable; whitespace
// and mixed splits drop them. Positional channels get no fields at all; their
// extractors work on byte offsets of the raw line. Split never fails: a short
// line just yields a short vector.
func (k DelimiterKind) Split(line string) []string {
	switch k {
	case DelimiterPipe:
		return splitTrim(line, "|")
	case DelimiterCaret:
		return splitTrim(line, "^")
	case DelimiterComma:
		return splitTrim(line, ",")
	case DelimiterWhitespace:
		return strings.Fields(line)
	case DelimiterMixedCaretPipe:
		var fields []string
		for _, part := range strings.Split(line, "|") {
			for _, piece := range strings.Split(part, "^") {
				piece = strings.TrimSpace(piece)
				if piece != "" {
					fields = append(fields, piece)
				}
			}
		}
		return fields
	default:
		return nil
	}
}

func splitTrim(line, sep string) []string {
	parts := strings.Split(line, sep)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// SplitLines breaks decoded file content into lines on \n, trimming a
// trailing \r from each. A final empty element left by a terminating newline
// is dropped; interior blank lines are kept for the caller to skip.
func SplitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSuffix(ln, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

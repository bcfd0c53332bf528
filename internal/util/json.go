package util

import (
	"errors"
	"regexp"
	"strings"
)

var (
	fencePattern         = regexp.MustCompile("(?i)```json\\s*")
	barFencePattern      = regexp.MustCompile("```\\s*")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	longDecimalPattern   = regexp.MustCompile(`(\d+\.\d{8})\d+`)
)

// ErrNoJSON is returned when text carries no object or array.
var ErrNoJSON = errors.New("no JSON object or array found")

// ParseLooseJSON extracts a JSON value from model output.
// It strips markdown fences, slices from the first opening bracket to the
// matching last closing one, closes unbalanced brackets, trims overlong
// decimals and drops trailing commas before decoding.
func ParseLooseJSON(text string) (any, error) {
	clean := fencePattern.ReplaceAllString(text, "")
	clean = strings.TrimSpace(barFencePattern.ReplaceAllString(clean, ""))

	firstBrace := strings.Index(clean, "{")
	firstBracket := strings.Index(clean, "[")

	var start, end int
	switch {
	case firstBrace != -1 && (firstBracket == -1 || firstBrace < firstBracket):
		start, end = firstBrace, strings.LastIndex(clean, "}")
	case firstBracket != -1:
		start, end = firstBracket, strings.LastIndex(clean, "]")
	default:
		return nil, ErrNoJSON
	}

	if end > start {
		clean = clean[start : end+1]
	} else {
		clean = clean[start:]
	}

	clean += strings.Repeat("]", max(0, strings.Count(clean, "[")-strings.Count(clean, "]")))
	clean += strings.Repeat("}", max(0, strings.Count(clean, "{")-strings.Count(clean, "}")))
	clean = longDecimalPattern.ReplaceAllString(clean, "$1")
	clean = trailingCommaPattern.ReplaceAllString(clean, "$1")

	var out any
	if err := UnmarshalJSON([]byte(clean), &out); err != nil {
		return nil, err
	}
	return out, nil
}

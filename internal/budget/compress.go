package budget

import (
	"fmt"
	"regexp"
	"strings"

	"aidispatch/internal/core"
)

var (
	blankLines     = regexp.MustCompile(`\n{3,}`)
	trailingSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
	htmlComment    = regexp.MustCompile(`<!--[\s\S]*?-->`)
	blockComment   = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	longConsoleLog = regexp.MustCompile(`console\.(log|debug|info)\([^)]{100,}\)`)
	dataURI        = regexp.MustCompile(`data:[^;]+;base64,[a-zA-Z0-9+/=]{500,}`)
)

const longCommentLength = 100

// Compress shrinks text toward maxTokens. Blank runs collapse and trailing
// whitespace goes; aggressive mode also elides long comments and logging
// calls. Embedded base64 payloads are always cut. Text still over budget is
// truncated to a head/tail window.
func (o *Optimizer) Compress(text string, maxTokens int, aggressive bool) string {
	if text == "" {
		return text
	}

	compressed := blankLines.ReplaceAllString(text, "\n\n")
	compressed = trailingSpace.ReplaceAllString(compressed, "")

	if aggressive {
		compressed = htmlComment.ReplaceAllStringFunc(compressed, func(m string) string {
			if len(m) > longCommentLength {
				return "<!-- ... -->"
			}
			return m
		})
		compressed = blockComment.ReplaceAllStringFunc(compressed, func(m string) string {
			if len(m) > longCommentLength {
				return "/* ... */"
			}
			return m
		})
		compressed = longConsoleLog.ReplaceAllString(compressed, "console.log(/* truncated */)")
	}

	compressed = dataURI.ReplaceAllString(compressed, "data:...base64...[TRUNCATED]")

	if o.estimator.Estimate(compressed) > maxTokens {
		compressed = o.Truncate(compressed, maxTokens)
	}
	return compressed
}

func omittedMarker(lines int) string {
	return fmt.Sprintf("\n\n... [%d lines omitted] ...\n\n", lines)
}

// Truncate cuts text to fit maxTokens while keeping both ends. Long
// documents keep whole head and tail lines (60/40); anything that still
// does not fit is cut by characters.
func (o *Optimizer) Truncate(text string, maxTokens int) string {
	if o.estimator.Estimate(text) <= maxTokens {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) >= core.SmartTruncateMinLines {
		keep := maxTokens / core.TokensPerLine
		head := keep * 6 / 10
		tail := keep - head
		if head > 0 && tail > 0 && head+tail < len(lines) {
			out := strings.Join(lines[:head], "\n") +
				omittedMarker(len(lines)-head-tail) +
				strings.Join(lines[len(lines)-tail:], "\n")
			if o.estimator.Estimate(out) <= maxTokens {
				return out
			}
		}
	}

	return o.truncateChars(text, maxTokens)
}

// truncateChars keeps a character head/tail window around an omitted marker.
func (o *Optimizer) truncateChars(text string, maxTokens int) string {
	runes := []rune(text)
	totalLines := strings.Count(text, "\n") + 1

	// Reserve space for the widest marker this text can produce.
	budget := o.estimator.maxChars(maxTokens) - len([]rune(omittedMarker(totalLines)))
	if budget <= 0 {
		return strings.TrimSpace(omittedMarker(totalLines))
	}

	head := budget * 6 / 10
	tail := budget - head
	middle := string(runes[head : len(runes)-tail])
	omitted := strings.Count(middle, "\n")

	return string(runes[:head]) + omittedMarker(omitted) + string(runes[len(runes)-tail:])
}

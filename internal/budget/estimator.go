package budget

import (
	"math"
	"unicode/utf8"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// Estimator approximates token counts from character length.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator; a non-positive ratio uses the default.
func NewEstimator(charsPerToken float64) Estimator {
	if charsPerToken <= 0 {
		charsPerToken = core.DefaultCharsPerToken
	}
	return Estimator{charsPerToken: charsPerToken}
}

// CharsPerToken returns the configured ratio.
func (e Estimator) CharsPerToken() float64 {
	if e.charsPerToken <= 0 {
		return core.DefaultCharsPerToken
	}
	return e.charsPerToken
}

// Estimate returns ceil(chars / ratio).
func (e Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / e.CharsPerToken()))
}

// EstimateMessages estimates a conversation by its JSON encoding.
func (e Estimator) EstimateMessages(messages []core.Message) int {
	if len(messages) == 0 {
		return 0
	}
	data, err := util.MarshalJSON(messages)
	if err != nil {
		total := 0
		for _, m := range messages {
			total += e.Estimate(m.Role) + e.Estimate(m.Content)
		}
		return total
	}
	return e.Estimate(string(data))
}

// maxChars is the longest text that still estimates within tokens.
func (e Estimator) maxChars(tokens int) int {
	return int(math.Floor(float64(tokens) * e.CharsPerToken()))
}

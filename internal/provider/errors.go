package provider

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

var (
	retryInPattern    = regexp.MustCompile(`(?i)retry in ([\d.]+)\s*s`)
	retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"([\d.]+s)"`)

	rateLimitSignatures = []string{"quota", "rate limit", "rate_limit", "ratelimit", "too many requests"}
	overloadSignatures  = []string{"overload", "temporarily unavailable", "server error", "capacity", "busy"}
	requestSignatures   = []string{"invalid input", "unprocessable", "cors", "err_failed"}
)

// Classify maps an upstream status and message to an error kind. The status
// decides first; signatures in the message refine unrecognised statuses.
func Classify(status int, message string) core.ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(message, "RESOURCE_EXHAUSTED"),
		containsAny(lower, rateLimitSignatures):
		return core.KindRateLimited
	case status >= 500, containsAny(lower, overloadSignatures):
		return core.KindOverloaded
	case status >= 400, containsAny(lower, requestSignatures):
		return core.KindRequest
	}
	return core.KindUnknown
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// ParseRetryHint finds an explicit retry delay in an error body, either the
// "retry in 12.5s" phrase or a Gemini RetryInfo retryDelay.
func ParseRetryHint(text string) time.Duration {
	if m := retryInPattern.FindStringSubmatch(text); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return time.Duration(math.Ceil(secs*1000)) * time.Millisecond
		}
	}
	if m := retryDelayPattern.FindStringSubmatch(text); m != nil {
		if d, err := time.ParseDuration(m[1]); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ExtractErrorMessage pulls a human readable message from an error body.
func ExtractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload map[string]any
	if err := util.UnmarshalJSON(body, &payload); err != nil {
		return util.TruncateString(strings.TrimSpace(string(body)), 200, 0, "...")
	}

	switch e := payload["error"].(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			if status, ok := e["status"].(string); ok && status != "" {
				return status + ": " + msg
			}
			return msg
		}
	}
	if msg, ok := payload["message"].(string); ok {
		return msg
	}
	return ""
}

package executor

import "strings"

// FailureClass buckets a work-stage failure by its message text. The stage
// is an opaque external call, so its error text is the only signal available.
type FailureClass int

const (
	// ClassFatal is anything unclassified; not retried.
	ClassFatal FailureClass = iota
	// ClassQuota is a rate/quota-limited failure; retried with long backoff.
	ClassQuota
	// ClassTransient is an infra-level failure; retried with short backoff.
	ClassTransient
)

var (
	quotaPatterns     = []string{"resource_exhausted", "quota", "429", "rate-limit"}
	transientPatterns = []string{"unavailable", "timeout", "internal"}
	overloadPatterns  = []string{"unavailable", "503"}
)

// Classify buckets a failure message by case-insensitive substring match.
func Classify(msg string) FailureClass {
	low := strings.ToLower(msg)

	for _, p := range quotaPatterns {
		if strings.Contains(low, p) {
			return ClassQuota
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(low, p) {
			return ClassTransient
		}
	}
	return ClassFatal
}

// HasQuotaPattern reports whether text carries a quota-style failure
// signature. Used by the aggregation pass to defer evaluation.
func HasQuotaPattern(text string) bool {
	low := strings.ToLower(text)
	for _, p := range quotaPatterns {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

// HasOverloadPattern reports whether text carries a model-overloaded
// signature (503/unavailable).
func HasOverloadPattern(text string) bool {
	low := strings.ToLower(text)
	for _, p := range overloadPatterns {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

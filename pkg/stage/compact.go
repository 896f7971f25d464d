package stage

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChars is the string budget applied during compaction.
	DefaultMaxChars = 4000
	// DefaultMaxListItems caps list lengths during compaction.
	DefaultMaxListItems = 50

	truncatedSuffix   = "...[truncated]"
	truncatedListItem = "...[truncated items]"

	// contentKeySuffix marks map keys whose values get a 4x smaller budget.
	contentKeySuffix = "content"
	contentBudgetDiv = 4
)

// CompactOptions bounds payload sizes while preserving structure.
type CompactOptions struct {
	MaxChars     int
	MaxListItems int
}

// DefaultCompactOptions returns the standard compaction budget.
func DefaultCompactOptions() CompactOptions {
	return CompactOptions{
		MaxChars:     DefaultMaxChars,
		MaxListItems: DefaultMaxListItems,
	}
}

// Compact recursively trims a payload: long strings are cut and marked, long
// lists are truncated with a marker element, and map values whose key names
// end in a content-like suffix get a stricter budget. The structural shape
// survives so failures stay diagnosable from logs.
func Compact(v Value, opts CompactOptions) Value {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.MaxListItems <= 0 {
		opts.MaxListItems = DefaultMaxListItems
	}
	return compact(v, opts.MaxChars, opts.MaxListItems)
}

// cutString trims s to at most n bytes, backing up so the cut never splits a
// multibyte rune.
func cutString(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func compact(v Value, maxChars, maxItems int) Value {
	switch val := v.(type) {
	case string:
		if len(val) <= maxChars {
			return val
		}
		return cutString(val, maxChars) + truncatedSuffix

	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			budget := maxChars
			if strings.HasSuffix(strings.ToLower(k), contentKeySuffix) {
				budget = maxChars / contentBudgetDiv
			}
			out[k] = compact(item, budget, maxItems)
		}
		return out

	case []interface{}:
		items := val
		truncated := false
		if len(items) > maxItems {
			items = items[:maxItems]
			truncated = true
		}
		out := make([]interface{}, 0, len(items)+1)
		for _, item := range items {
			out = append(out, compact(item, maxChars, maxItems))
		}
		if truncated {
			out = append(out, truncatedListItem)
		}
		return out

	default:
		return v
	}
}

package scoring

import (
	"strconv"
	"strings"
)

// freeIndicators mark a price text as zero-cost regardless of any numbers
// around them ("Gratis testen", "free forever").
var freeIndicators = []string{"gratis", "free", "kostenlos", "gratuit"}

// ParsePrice extracts a numeric monthly price from free-form catalog price
// text. It recognizes free indicators, tolerates currency prefixes and
// /period suffixes, and accepts both comma and dot decimal separators.
// Returns ok=false when no number can be found; callers treat that as
// unknown and pass the budget check optimistically.
func ParsePrice(text string) (float64, bool) {
	lower := strings.ToLower(text)
	for _, ind := range freeIndicators {
		if strings.Contains(lower, ind) {
			return 0, true
		}
	}

	start := -1
	for i := 0; i < len(lower); i++ {
		if lower[i] >= '0' && lower[i] <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(lower) {
		c := lower[end]
		if (c >= '0' && c <= '9') || c == '.' || c == ',' {
			end++
			continue
		}
		break
	}
	tok := strings.TrimRight(lower[start:end], ".,")

	switch {
	case strings.Contains(tok, ",") && strings.Contains(tok, "."):
		if strings.LastIndex(tok, ",") > strings.LastIndex(tok, ".") {
			// European grouping: 1.234,56
			tok = strings.ReplaceAll(tok, ".", "")
			tok = strings.Replace(tok, ",", ".", 1)
		} else {
			// US grouping: 1,234.56
			tok = strings.ReplaceAll(tok, ",", "")
		}
	case strings.Count(tok, ",") == 1:
		tok = strings.Replace(tok, ",", ".", 1)
	default:
		tok = strings.ReplaceAll(tok, ",", "")
	}

	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

package lineage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/schema"
)

var oneThousand = decimal.NewFromInt(1000)

// FormatValue renders a computed value the way it appears in report output:
// thousands-scaled figures with comma grouping, percentages with a % suffix,
// ratios with an x suffix, negatives in parentheses. Missing values format
// as nil so JSON output carries null.
func FormatValue(v *decimal.Decimal, d schema.Display) *string {
	if v == nil {
		return nil
	}
	var out string
	switch d.Format {
	case schema.FormatPercent:
		out = wrapNegative(v.IsNegative(), v.Abs().StringFixed(int32(d.Decimals))+"%")
	case schema.FormatRatio:
		out = wrapNegative(v.IsNegative(), v.Abs().StringFixed(int32(d.Decimals))+"x")
	default:
		scaled := v.Div(oneThousand)
		abs := scaled.Abs()
		var body string
		if abs.Equal(abs.Truncate(0)) {
			body = groupThousands(abs.StringFixed(0))
		} else {
			body = groupThousands(abs.StringFixed(int32(d.Decimals)))
		}
		out = wrapNegative(scaled.IsNegative(), body)
	}
	return &out
}

func wrapNegative(negative bool, s string) string {
	if negative {
		return "(" + s + ")"
	}
	return s
}

// groupThousands inserts comma separators into the integer part of a
// formatted decimal string.
func groupThousands(s string) string {
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return intPart + frac
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + frac
}

// MissingWarning builds the standard top-level warning text for a Missing
// metric cell, naming the metric, the period, and the unresolved keys.
func MissingWarning(metric, period string, missingKeys []string) string {
	if len(missingKeys) == 0 {
		return fmt.Sprintf("%s %s: missing", metric, period)
	}
	return fmt.Sprintf("%s %s: missing due to absent %s", metric, period, strings.Join(missingKeys, ", "))
}

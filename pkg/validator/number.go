package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// NumberRule describes the bounds and precision of a numeric column.
type NumberRule struct {
	Min       *float64
	Max       *float64
	Decimals  *int
	AllowNull bool
	Integer   bool
	// Percent divides values written as "45 %" by 100 so they land in [0,1].
	Percent bool
}

// FieldError is a single field level rejection.
type FieldError struct {
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s (value %q)", e.Reason, e.Value)
}

// thousandsGrouping matches integers written with "." or "," group separators, e.g. 1.234.567.
// A leading 0 group is a decimal fraction, not grouping.
var thousandsGrouping = regexp.MustCompile(`^-?[1-9]\d{0,2}([.,]\d{3})+$`)

// Bound is a convenience for building rules inline.
func Bound(v float64) *float64 { return &v }

// Places is a convenience for NumberRule.Decimals.
func Places(n int) *int { return &n }

var currencyReplacer = strings.NewReplacer(
	"$", "",
	"€", "",
	"£", "",
	"¥", "",
	" ", "",
	" ", "",
)

// Number trims and parses raw text, enforces the rule bounds and rounds to the
// configured precision. Empty or unparseable input yields nil when the rule
// allows null and a *FieldError otherwise.
func Number(raw string, rule NumberRule) (*float64, error) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "-" {
		if rule.AllowNull {
			return nil, nil
		}
		return nil, &FieldError{Value: raw, Reason: "value is required"}
	}

	percent := false
	if strings.HasSuffix(value, "%") {
		percent = true
		value = strings.TrimSpace(strings.TrimSuffix(value, "%"))
	}
	value = currencyReplacer.Replace(value)
	if rule.Integer && thousandsGrouping.MatchString(value) {
		value = strings.NewReplacer(".", "", ",", "").Replace(value)
	}
	value = normalizeDecimal(value)

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		if rule.AllowNull {
			return nil, nil
		}
		return nil, &FieldError{Value: raw, Reason: "not a number"}
	}
	if percent && rule.Percent {
		parsed = parsed / 100
	}

	if rule.Integer && parsed != math.Trunc(parsed) {
		return nil, &FieldError{Value: raw, Reason: "not an integer"}
	}
	if rule.Decimals != nil {
		parsed = round(parsed, *rule.Decimals)
	}
	if rule.Min != nil && parsed < *rule.Min {
		return nil, &FieldError{Value: raw, Reason: fmt.Sprintf("less than minimum %v", *rule.Min)}
	}
	if rule.Max != nil && parsed > *rule.Max {
		return nil, &FieldError{Value: raw, Reason: fmt.Sprintf("greater than maximum %v", *rule.Max)}
	}
	return &parsed, nil
}

// normalizeDecimal converts "1.234,56" and "1,234.56" into "1234.56". A single
// comma without a dot is a decimal separator, so "4,567" reads as 4.567.
// Integer grouping is stripped before this runs.
func normalizeDecimal(value string) string {
	comma := strings.LastIndex(value, ",")
	dot := strings.LastIndex(value, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		value = strings.ReplaceAll(value, ".", "")
		return strings.Replace(value, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		return strings.ReplaceAll(value, ",", "")
	case comma >= 0 && strings.Count(value, ",") == 1:
		return strings.Replace(value, ",", ".", 1)
	case comma >= 0:
		return strings.ReplaceAll(value, ",", "")
	}
	return value
}

func round(value float64, places int) float64 {
	if places < 0 {
		return value
	}
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

// Text trims raw text and enforces a maximum rune length (0 disables the check).
func Text(raw string, maxLen int, allowNull bool) (*string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		if allowNull {
			return nil, nil
		}
		return nil, &FieldError{Value: raw, Reason: "value is required"}
	}
	if maxLen > 0 && utf8.RuneCountInString(value) > maxLen {
		return nil, &FieldError{Value: raw, Reason: fmt.Sprintf("longer than %d characters", maxLen)}
	}
	return &value, nil
}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"2006-01",
}

// Date parses the timestamp formats found in marketplace exports.
func Date(raw string, allowNull bool) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		if allowNull {
			return nil, nil
		}
		return nil, &FieldError{Value: raw, Reason: "value is required"}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	if allowNull {
		return nil, nil
	}
	return nil, &FieldError{Value: raw, Reason: "unrecognized timestamp format"}
}

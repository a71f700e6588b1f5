package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ISODateFormat is the default date layout for conversions.
const ISODateFormat = "2006-01-02"

// commonDateLayouts are tried in order after the configured layout.
var commonDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var trueTokens = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}
var falseTokens = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true}

// Coerce converts a raw value to the declared data type. Nil and empty
// strings coerce to nil regardless of type.
func Coerce(value interface{}, t DataType, dateFormat string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	s, isString := value.(string)
	if isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
	}

	switch t {
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
		n, err := strconv.ParseInt(cleanNumeric(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return n, nil

	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		f, err := strconv.ParseFloat(cleanNumeric(s), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		return f, nil

	case TypeDate:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
		if !isString {
			return nil, fmt.Errorf("not a date: %v", value)
		}
		layouts := commonDateLayouts
		if dateFormat != "" {
			layouts = append([]string{dateFormat}, commonDateLayouts...)
		}
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("not a date: %q", s)

	case TypeBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		lower := strings.ToLower(s)
		if trueTokens[lower] {
			return true, nil
		}
		if falseTokens[lower] {
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean: %q", s)

	default: // string, text
		if isString {
			return s, nil
		}
		return fmt.Sprint(value), nil
	}
}

// cleanNumeric strips currency and grouping characters before parsing.
func cleanNumeric(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	return strings.TrimSpace(s)
}

// InferType picks the narrowest type that fits every non-empty sample.
// Precedence: integer, float, date, boolean, string.
func InferType(samples []string) DataType {
	nonEmpty := 0
	isInt, isFloat, isDate, isBool := true, true, true, true
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(cleanNumeric(s), 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cleanNumeric(s), 64); err != nil {
				isFloat = false
			}
		}
		if isDate && !looksLikeDate(s) {
			isDate = false
		}
		if isBool {
			lower := strings.ToLower(s)
			if !trueTokens[lower] && !falseTokens[lower] {
				isBool = false
			}
		}
	}
	if nonEmpty == 0 {
		return TypeString
	}
	switch {
	// 0/1 columns parse as integers too; prefer the numeric reading.
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeFloat
	case isDate:
		return TypeDate
	case isBool:
		return TypeBoolean
	default:
		return TypeString
	}
}

func looksLikeDate(s string) bool {
	if len(s) < 6 || len(s) > 25 {
		return false
	}
	for _, layout := range commonDateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

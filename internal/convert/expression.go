package convert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// evalExpression checks an algebraic comparison between target columns,
// e.g. "land_value + improvement_value == total_value". Each side is a
// sum of column references and numeric literals. tolerance applies as
// an absolute bound on equality comparisons.
func evalExpression(expr string, tolerance float64, row schema.Row) (bool, error) {
	op, lhs, rhs, err := splitComparison(expr)
	if err != nil {
		return false, err
	}

	left, err := evalSum(lhs, row)
	if err != nil {
		return false, err
	}
	right, err := evalSum(rhs, row)
	if err != nil {
		return false, err
	}

	diff := left - right
	switch op {
	case "==", "=":
		return abs(diff) <= tolerance, nil
	case "!=":
		return abs(diff) > tolerance, nil
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// comparison operators ordered so two-character forms match first
var comparisonOps = []string{"==", "!=", "<=", ">=", "<", ">", "="}

func splitComparison(expr string) (op, lhs, rhs string, err error) {
	for _, candidate := range comparisonOps {
		if idx := strings.Index(expr, candidate); idx > 0 {
			return candidate, strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(candidate):]), nil
		}
	}
	return "", "", "", fmt.Errorf("no comparison operator in %q", expr)
}

// evalSum evaluates "term ± term ± ..." where a term is a column name
// or a numeric literal.
func evalSum(side string, row schema.Row) (float64, error) {
	if side == "" {
		return 0, fmt.Errorf("empty expression side")
	}

	total := 0.0
	sign := 1.0
	for _, field := range strings.Fields(insertSpaces(side)) {
		switch field {
		case "+":
			sign = 1.0
		case "-":
			sign = -1.0
		default:
			v, err := evalTerm(field, row)
			if err != nil {
				return 0, err
			}
			total += sign * v
			sign = 1.0
		}
	}
	return total, nil
}

// insertSpaces pads +/- so "a+b" splits like "a + b". Leading minus on
// a literal survives because Fields drops empty tokens.
func insertSpaces(s string) string {
	s = strings.ReplaceAll(s, "+", " + ")
	return strings.ReplaceAll(s, "-", " - ")
}

func evalTerm(term string, row schema.Row) (float64, error) {
	if f, err := strconv.ParseFloat(term, 64); err == nil {
		return f, nil
	}
	v, ok := row[term]
	if !ok {
		return 0, fmt.Errorf("unknown column %q", term)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("column %q is not numeric", term)
	}
	return f, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

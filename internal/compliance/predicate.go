package compliance

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Comparator is the operator a NumericThreshold predicate applies.
type Comparator string

const (
	GreaterThan Comparator = "gt"
	LessThan    Comparator = "lt"
	Equal       Comparator = "eq"
)

// NumericThreshold builds a Predicate comparing a gjson path in the
// request body (falling back to rc.Metrics[path] when the path isn't
// present in the body) against threshold.
func NumericThreshold(path string, op Comparator, threshold float64) Predicate {
	return func(body []byte, rc RequestContext) (bool, error) {
		var value float64
		if result := gjson.GetBytes(body, path); result.Exists() {
			value = result.Float()
		} else if v, ok := rc.Metrics[path]; ok {
			value = v
		} else {
			return false, nil
		}

		switch op {
		case GreaterThan:
			return value > threshold, nil
		case LessThan:
			return value < threshold, nil
		case Equal:
			return value == threshold, nil
		default:
			return false, fmt.Errorf("compliance: unknown comparator %q", op)
		}
	}
}

// StringEquals builds a Predicate matching a gjson path's string value
// against one of the allowed values.
func StringEquals(path string, allowed ...string) Predicate {
	return func(body []byte, _ RequestContext) (bool, error) {
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			return false, nil
		}
		actual := result.String()
		for _, a := range allowed {
			if actual == a {
				return true, nil
			}
		}
		return false, nil
	}
}

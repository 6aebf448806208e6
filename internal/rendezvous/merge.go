package rendezvous

import (
	"fmt"
	"reflect"
	"strings"
)

// MergeFunc combines the values reported at an aggregation point. Values arrive
// in participant order; failed participants are left out.
type MergeFunc func(values []any) (any, error)

// Concat flattens slices and joins strings. Mixed inputs are flattened into a []any.
func Concat(values []any) (any, error) {
	allStrings := true
	for _, v := range values {
		if _, ok := v.(string); !ok {
			allStrings = false
			break
		}
	}
	if allStrings && len(values) > 0 {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.(string)
		}
		return strings.Join(parts, "\n"), nil
	}

	out := []any{}
	for _, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			for i := 0; i < rv.Len(); i++ {
				out = append(out, rv.Index(i).Interface())
			}
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Collect returns the values as they were reported.
func Collect(values []any) (any, error) {
	return append([]any{}, values...), nil
}

// Sum adds numeric values.
func Sum(values []any) (any, error) {
	var total float64
	for i, v := range values {
		switch n := v.(type) {
		case int:
			total += float64(n)
		case int64:
			total += float64(n)
		case int32:
			total += float64(n)
		case float64:
			total += n
		case float32:
			total += float64(n)
		default:
			return nil, fmt.Errorf("sum: value %d is %T, not a number", i, v)
		}
	}
	return total, nil
}

func builtinMerges() map[string]MergeFunc {
	return map[string]MergeFunc{
		"concat":  Concat,
		"collect": Collect,
		"sum":     Sum,
	}
}

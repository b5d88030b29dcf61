package check

import (
	"reflect"
	"strings"
	"time"

	"yqhp/load-harness/internal/httpclient"
)

// StatusIs passes when the status equals code exactly.
func StatusIs(code int) Func {
	return func(r *httpclient.Response) bool {
		return r != nil && r.Status == code
	}
}

// StatusIn passes when the status is one of codes.
func StatusIn(codes ...int) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		for _, c := range codes {
			if r.Status == c {
				return true
			}
		}
		return false
	}
}

// DurationBelow passes when the request took strictly less than d.
func DurationBelow(d time.Duration) Func {
	return func(r *httpclient.Response) bool {
		return r != nil && r.Elapsed < d
	}
}

// JSONPresent passes when the body parses and path exists; a JSON null
// counts as present.
func JSONPresent(path string) Func {
	return func(r *httpclient.Response) bool {
		return r != nil && r.JSON(path).Present
	}
}

// JSONNotNull passes when path exists and is not null.
func JSONNotNull(path string) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		v := r.JSON(path)
		return v.Present && !v.IsNull()
	}
}

// JSONTruthy passes when path holds a value other than null, false, 0 or "".
func JSONTruthy(path string) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		v := r.JSON(path)
		if !v.Present {
			return false
		}
		switch x := v.Raw.(type) {
		case nil:
			return false
		case bool:
			return x
		case string:
			return x != ""
		}
		if n, ok := v.Number(); ok {
			return n != 0
		}
		return true
	}
}

// JSONIsArray passes when path is a JSON array.
func JSONIsArray(path string) Func {
	return func(r *httpclient.Response) bool {
		return r != nil && r.JSON(path).IsArray()
	}
}

// JSONIsNumber passes when path is a JSON number.
func JSONIsNumber(path string) Func {
	return func(r *httpclient.Response) bool {
		return r != nil && r.JSON(path).IsNumber()
	}
}

// JSONEquals passes when path equals want. Numbers compare by value, so
// JSONEquals("paging.limit", 5) matches a decoded 5 or 5.0.
func JSONEquals(path string, want any) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		v := r.JSON(path)
		if !v.Present {
			return false
		}
		if wf, ok := toFloat64(want); ok {
			got, ok := v.Number()
			return ok && got == wf
		}
		return reflect.DeepEqual(v.Raw, want)
	}
}

// JSONStringContains passes when path is a string containing sub.
func JSONStringContains(path, sub string) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		s, ok := r.JSON(path).String()
		return ok && strings.Contains(s, sub)
	}
}

// JSONArrayHas passes when path is an array with at least one object whose
// fields all equal want.
func JSONArrayHas(path string, want map[string]any) Func {
	return func(r *httpclient.Response) bool {
		if r == nil {
			return false
		}
		items, ok := r.JSON(path).Array()
		if !ok {
			return false
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if ok && hasFields(obj, want) {
				return true
			}
		}
		return false
	}
}

func hasFields(obj, want map[string]any) bool {
	for k, w := range want {
		got, ok := obj[k]
		if !ok {
			return false
		}
		if wf, ok := toFloat64(w); ok {
			gf, ok := toFloat64(got)
			if !ok || gf != wf {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, w) {
			return false
		}
	}
	return true
}

// All passes when every fn passes; evaluation stops at the first failure.
func All(fns ...Func) Func {
	return func(r *httpclient.Response) bool {
		for _, fn := range fns {
			if !fn(r) {
				return false
			}
		}
		return true
	}
}

// Any passes when at least one fn passes.
func Any(fns ...Func) Func {
	return func(r *httpclient.Response) bool {
		for _, fn := range fns {
			if fn(r) {
				return true
			}
		}
		return false
	}
}

// When applies then only if cond passes; otherwise the check passes. It
// expresses conditional assertions such as "when 200, data is present".
func When(cond, then Func) Func {
	return func(r *httpclient.Response) bool {
		if !cond(r) {
			return true
		}
		return then(r)
	}
}

// toFloat64 converts a numeric value to float64 for comparison.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

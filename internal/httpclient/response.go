package httpclient

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Response is an immutable view of one completed request. Status is 0 when
// the request failed at the transport level.
type Response struct {
	Method  string
	URL     string
	Name    string
	Status  int
	Body    []byte
	Headers http.Header
	Elapsed time.Duration
	// Err is the transport error, if any; also returned by the request call.
	Err error

	parseOnce sync.Once
	doc       any
	parseErr  error
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// String returns the body as text.
func (r *Response) String() string {
	return string(r.Body)
}

// Value is the result of a JSON lookup: either present with a decoded Raw
// value, or absent with the reason in Err.
type Value struct {
	Raw     any
	Present bool
	Err     error
}

// JSON looks up path in the JSON body. Paths are ojg JSONPath expressions
// with or without the leading "$." ("data", "error.code", "data[0].id");
// an empty path addresses the whole document. A body that is not valid JSON,
// or a path that selects nothing, yields an absent Value.
func (r *Response) JSON(path string) Value {
	r.parseOnce.Do(func() {
		if len(r.Body) == 0 {
			r.parseErr = fmt.Errorf("empty body")
			return
		}
		r.doc, r.parseErr = oj.Parse(r.Body)
	})
	if r.parseErr != nil {
		return Value{Err: fmt.Errorf("decode body: %w", r.parseErr)}
	}
	return lookup(r.doc, path)
}

func lookup(doc any, path string) Value {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return Value{Raw: doc, Present: true}
	}
	if !strings.HasPrefix(path, "$") {
		if strings.HasPrefix(path, "[") {
			path = "$" + path
		} else {
			path = "$." + path
		}
	}
	x, err := jp.ParseString(path)
	if err != nil {
		return Value{Err: fmt.Errorf("invalid path %q: %w", path, err)}
	}
	results := x.Get(doc)
	if len(results) == 0 {
		return Value{Err: fmt.Errorf("path %q not found", path)}
	}
	return Value{Raw: results[0], Present: true}
}

// IsNull reports a present JSON null.
func (v Value) IsNull() bool {
	return v.Present && v.Raw == nil
}

// String returns the value as a string when it is a JSON string.
func (v Value) String() (string, bool) {
	s, ok := v.Raw.(string)
	return s, v.Present && ok
}

// Number returns the value as float64 when it is a JSON number.
func (v Value) Number() (float64, bool) {
	if !v.Present {
		return 0, false
	}
	switch n := v.Raw.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// IsNumber reports a JSON number.
func (v Value) IsNumber() bool {
	_, ok := v.Number()
	return ok
}

// Array returns the elements when the value is a JSON array.
func (v Value) Array() ([]any, bool) {
	a, ok := v.Raw.([]any)
	return a, v.Present && ok
}

// IsArray reports a JSON array.
func (v Value) IsArray() bool {
	_, ok := v.Array()
	return ok
}

// Object returns the members when the value is a JSON object.
func (v Value) Object() (map[string]any, bool) {
	m, ok := v.Raw.(map[string]any)
	return m, v.Present && ok
}

// Get looks up a sub-path inside the value.
func (v Value) Get(path string) Value {
	if !v.Present {
		return v
	}
	return lookup(v.Raw, path)
}

// Len returns the length of an array, object or string; 0 otherwise.
func (v Value) Len() int {
	switch x := v.Raw.(type) {
	case []any:
		return len(x)
	case map[string]any:
		return len(x)
	case string:
		return len(x)
	}
	return 0
}

// IsObject reports a JSON object.
func (v Value) IsObject() bool {
	_, ok := v.Object()
	return ok
}

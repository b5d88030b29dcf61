package httpclient

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// URLTemplate derives a low-cardinality name tag from a request URL by
// replacing id-like path segments with "{id}" and dropping the query:
// "http://h/v1/scylla/tasks/abc123?x=1" -> "/v1/scylla/tasks/{id}".
func URLTemplate(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := u.Path
	if path == "" {
		return "/"
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if isIDSegment(s) {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}

// isIDSegment: 纯数字、UUID，或至少 6 个字符且同时包含字母和数字（按 rune 计数）
func isIDSegment(s string) bool {
	if s == "" {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	var runes, letters, digits int
	for _, r := range s {
		runes++
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if digits == runes {
		return true
	}
	return runes >= 6 && letters > 0 && digits > 0
}

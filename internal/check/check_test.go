package check

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/metrics"
)

func jsonResponse(status int, body string) *httpclient.Response {
	return &httpclient.Response{Status: status, Body: []byte(body), Elapsed: 20 * time.Millisecond}
}

func TestChecker_Check(t *testing.T) {
	me := engine.NewMetricsEngine(nil)
	c := New(me, me.Builtin.Errors, nil)
	resp := jsonResponse(200, `{"data":"Person created successfully"}`)

	ok := c.Check(resp,
		Check{Name: "status is 200", Fn: StatusIs(200)},
		Check{Name: "has data", Fn: JSONPresent("data")},
		Check{Name: "fast", Fn: DurationBelow(10 * time.Millisecond)},
	)
	assert.False(t, ok)

	checks := me.Checks()
	require.Len(t, checks, 3)
	assert.Equal(t, engine.CheckStat{Name: "status is 200", Passes: 1}, checks[0])
	assert.Equal(t, engine.CheckStat{Name: "has data", Passes: 1}, checks[1])
	assert.Equal(t, engine.CheckStat{Name: "fast", Fails: 1}, checks[2])
}

func TestChecker_PanickingPredicateCountsAsFailure(t *testing.T) {
	me := engine.NewMetricsEngine(nil)
	c := New(me, me.Builtin.Errors, nil)

	ok := c.Check(jsonResponse(200, `{}`),
		Check{Name: "boom", Fn: func(*httpclient.Response) bool { panic("boom") }},
		Check{Name: "nil", Fn: nil},
		Check{Name: "after", Fn: StatusIs(200)},
	)
	assert.False(t, ok)
	checks := me.Checks()
	require.Len(t, checks, 3)
	assert.Equal(t, int64(1), checks[0].Fails)
	assert.Equal(t, int64(1), checks[1].Fails)
	assert.Equal(t, int64(1), checks[2].Passes)
}

func TestChecker_ErrorRate(t *testing.T) {
	me := engine.NewMetricsEngine(nil)
	c := New(me, me.Builtin.Errors, nil)
	c.ErrorRate(false)
	c.ErrorRate(false)
	c.ErrorRate(true)
	c.ErrorRate(false)

	stats := me.GetAggregatedStats(time.Second)[metrics.ErrorsName]
	assert.Equal(t, 0.25, stats["rate"])
	assert.Equal(t, 1.0, stats["passes"])
	assert.Equal(t, 3.0, stats["fails"])

	// nil recorder is a no-op
	New(nil, nil, nil).ErrorRate(true)
}

func TestPredicates(t *testing.T) {
	resp := jsonResponse(200, `{"data":[{"id":"a1","title":"t","status":"doing"}],"paging":{"limit":5},"message":"pong"}`)
	missing := jsonResponse(404, `{"data":null,"error":{"code":"NOT_FOUND"}}`)
	broken := jsonResponse(200, `{"data":`)

	tests := []struct {
		name string
		fn   Func
		resp *httpclient.Response
		want bool
	}{
		{"status in", StatusIn(200, 404), missing, true},
		{"status not in", StatusIn(200, 201), missing, false},
		{"present", JSONPresent("data"), resp, true},
		{"null is present", JSONPresent("data"), missing, true},
		{"null is not not-null", JSONNotNull("data"), missing, false},
		{"truthy id", JSONTruthy("data[0].id"), resp, true},
		{"truthy null", JSONTruthy("data"), missing, false},
		{"truthy missing", JSONTruthy("data[0].nope"), resp, false},
		{"malformed body", JSONPresent("data"), broken, false},
		{"array", JSONIsArray("data"), resp, true},
		{"not array", JSONIsArray("paging"), resp, false},
		{"number", JSONIsNumber("paging.limit"), resp, true},
		{"equals number", JSONEquals("paging.limit", 5), resp, true},
		{"equals string", JSONEquals("message", "pong"), resp, true},
		{"equals mismatch", JSONEquals("error.code", "BAD"), missing, false},
		{"equals nested", JSONEquals("data[0].status", "doing"), resp, true},
		{"array has", JSONArrayHas("data", map[string]any{"id": "a1", "status": "doing"}), resp, true},
		{"array has mismatch", JSONArrayHas("data", map[string]any{"id": "a1", "status": "done"}), resp, false},
		{"array has null", JSONArrayHas("data", map[string]any{"id": "a1"}), missing, false},
		{"contains", JSONStringContains("message", "on"), resp, true},
		{"contains not string", JSONStringContains("paging", "5"), resp, false},
		{"all", All(StatusIs(200), JSONIsArray("data")), resp, true},
		{"all fails", All(StatusIs(200), JSONIsArray("paging")), resp, false},
		{"any", Any(StatusIs(500), StatusIs(404)), missing, true},
		{"when skips", When(StatusIs(200), JSONPresent("data")), missing, true},
		{"when applies", When(StatusIs(200), JSONPresent("nope")), resp, false},
		{"nil response", StatusIs(0), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.resp))
		})
	}
}

// status 比较为字面整数比较
func TestProperty_StatusLiteralComparison(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(0, 599).Draw(t, "status")
		expected := rapid.IntRange(0, 599).Draw(t, "expected")
		resp := &httpclient.Response{Status: status}
		if got := StatusIs(expected)(resp); got != (status == expected) {
			t.Fatalf("StatusIs(%d) on %d = %v", expected, status, got)
		}
	})
}

// 同一响应上的相同谓词结果相同
func TestProperty_ChecksAreIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.SampledFrom([]int{200, 400, 404, 500}).Draw(t, "status")
		body := rapid.SampledFrom([]string{`{"data":[1,2]}`, `{"data":null}`, `not json`, ``}).Draw(t, "body")
		resp := &httpclient.Response{Status: status, Body: []byte(body)}
		fn := All(StatusIn(200, 404), JSONIsArray("data"))

		first := fn(resp)
		for i := 0; i < 3; i++ {
			if fn(resp) != first {
				t.Fatalf("predicate result changed on repeated evaluation")
			}
		}
	})
}

package breakpoint

import (
	"testing"

	"github.com/ezshark/ezshark-go/internal/model"
)

func headers(pairs ...string) *model.Headers {
	h := &model.Headers{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestEvaluateDisabledRuleNeverMatches(t *testing.T) {
	rule := model.Breakpoint{Enabled: false, ReqEnable: true}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", nil); got != model.NoMatch {
		t.Fatalf("got %s, want NoMatch", got)
	}
}

func TestEvaluateDirectionNotEnabled(t *testing.T) {
	rule := model.Breakpoint{Enabled: true, ReqEnable: false, ResEnable: true}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", nil); got != model.NoMatch {
		t.Fatalf("got %s, want NoMatch", got)
	}
}

func TestEvaluateURLAndMethodMustMatch(t *testing.T) {
	rule := model.Breakpoint{
		Enabled: true, ReqEnable: true,
		URLSubstring: "/api/orders", Method: "POST",
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x/api/users", "POST", nil); got != model.NoMatch {
		t.Fatalf("wrong URL should not match, got %s", got)
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x/api/orders", "GET", nil); got != model.NoMatch {
		t.Fatalf("wrong method should not match, got %s", got)
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x/api/orders", "post", nil); got != model.FullMatch {
		t.Fatalf("method match should be case-insensitive, got %s", got)
	}
}

func TestEvaluateNoConditionsIsFullMatch(t *testing.T) {
	rule := model.Breakpoint{Enabled: true, ReqEnable: true}
	if got := Evaluate(rule, model.DirectionRequest, "http://anything", "GET", nil); got != model.FullMatch {
		t.Fatalf("got %s, want FullMatch", got)
	}
}

func TestEvaluateHeaderSubstringMatchesNameOrValue(t *testing.T) {
	rule := model.Breakpoint{
		Enabled: true, ReqEnable: true,
		Request: model.PhaseConditions{HeaderSubstring: "auth"},
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", headers("Authorization", "token")); got != model.FullMatch {
		t.Fatalf("header name substring should match, got %s", got)
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", headers("X-Foo", "auth-xyz")); got != model.FullMatch {
		t.Fatalf("header value substring should match, got %s", got)
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", headers("X-Foo", "bar")); got != model.NoMatch {
		t.Fatalf("no matching header should be NoMatch, got %s", got)
	}
}

func TestEvaluateBodyConditionDefersToHeaderOnly(t *testing.T) {
	rule := model.Breakpoint{
		Enabled: true, ReqEnable: true,
		Request: model.PhaseConditions{BodySubstring: "order_id"},
	}
	if got := Evaluate(rule, model.DirectionRequest, "http://x", "GET", nil); got != model.HeaderOnlyMatch {
		t.Fatalf("got %s, want HeaderOnlyMatch", got)
	}
}

func TestEngineCheckFullMatchShortCircuits(t *testing.T) {
	rules := []model.Breakpoint{
		{ID: "a", Enabled: true, ReqEnable: true, Request: model.PhaseConditions{BodySubstring: "x"}},
		{ID: "b", Enabled: true, ReqEnable: true},
	}
	e := New(rules)
	matched, result := e.Check(model.DirectionRequest, "http://x", "GET", nil)
	if result != model.FullMatch {
		t.Fatalf("result = %s, want FullMatch", result)
	}
	if len(matched) != 1 || matched[0].ID != "b" {
		t.Fatalf("expected only rule b, got %#v", matched)
	}
}

func TestEngineCheckCollectsHeaderOnlyMatches(t *testing.T) {
	rules := []model.Breakpoint{
		{ID: "a", Enabled: true, ReqEnable: true, Request: model.PhaseConditions{BodySubstring: "x"}},
		{ID: "b", Enabled: true, ReqEnable: true, Request: model.PhaseConditions{BodySubstring: "y"}},
		{ID: "c", Enabled: false, ReqEnable: true},
	}
	e := New(rules)
	matched, result := e.Check(model.DirectionRequest, "http://x", "GET", nil)
	if result != model.HeaderOnlyMatch {
		t.Fatalf("result = %s, want HeaderOnlyMatch", result)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 header-only rules, got %d", len(matched))
	}
}

func TestEngineCheckNoMatch(t *testing.T) {
	rules := []model.Breakpoint{{ID: "a", Enabled: true, ReqEnable: true, URLSubstring: "/nope"}}
	e := New(rules)
	matched, result := e.Check(model.DirectionRequest, "http://x", "GET", nil)
	if result != model.NoMatch || matched != nil {
		t.Fatalf("got %s/%v, want NoMatch/nil", result, matched)
	}
}

func TestCheckBody(t *testing.T) {
	rules := []model.Breakpoint{
		{ID: "a", Request: model.PhaseConditions{BodySubstring: "order_id"}},
		{ID: "b", Response: model.PhaseConditions{BodySubstring: "error_code"}},
	}
	if !CheckBody(rules, model.DirectionRequest, `{"order_id": 42}`) {
		t.Errorf("expected request body match")
	}
	if CheckBody(rules, model.DirectionRequest, `{"nothing": true}`) {
		t.Errorf("expected no match")
	}
	if !CheckBody(rules, model.DirectionResponse, `{"error_code": "E1"}`) {
		t.Errorf("expected response body match")
	}
}

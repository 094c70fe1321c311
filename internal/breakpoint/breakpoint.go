// Package breakpoint implements C4: matching interception rules
// against in-flight transactions. The algorithm is grounded directly
// on the original State::matches_breakpoint / check_breakpoints
// (state.rs), reimplemented as pure functions over model.Breakpoint
// and model.Headers rather than the original's async, lock-held
// methods.
package breakpoint

import (
	"strings"

	"github.com/ezshark/ezshark-go/internal/model"
)

// Evaluate matches a single rule against one phase (request or
// response) of a transaction. A rule with no URL/method condition
// matches everything on that axis; a header condition must be
// satisfied by at least one header name or value substring match; a
// body condition, if present, always yields HeaderOnlyMatch since body
// matching needs the body bytes, evaluated later by CheckBody.
func Evaluate(rule model.Breakpoint, direction model.Direction, uri, method string, headers *model.Headers) model.MatchResult {
	if !rule.Enabled {
		return model.NoMatch
	}

	enabled := rule.ReqEnable
	phase := rule.Request
	if direction == model.DirectionResponse {
		enabled = rule.ResEnable
		phase = rule.Response
	}
	if !enabled {
		return model.NoMatch
	}

	if rule.URLSubstring != "" && !strings.Contains(uri, rule.URLSubstring) {
		return model.NoMatch
	}
	if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
		return model.NoMatch
	}

	headerMatch := true
	if phase.HeaderSubstring != "" {
		headerMatch = headers != nil && headers.ContainsSubstring(phase.HeaderSubstring)
	}
	if !headerMatch {
		return model.NoMatch
	}

	if phase.BodySubstring != "" {
		return model.HeaderOnlyMatch
	}
	return model.FullMatch
}

// CheckBody evaluates the deferred body condition for rules that
// returned HeaderOnlyMatch, reporting whether any rule's body
// substring appears in body (decoded, as text).
func CheckBody(rules []model.Breakpoint, direction model.Direction, body string) bool {
	for _, rule := range rules {
		phase := rule.Request
		if direction == model.DirectionResponse {
			phase = rule.Response
		}
		if phase.BodySubstring != "" && strings.Contains(body, phase.BodySubstring) {
			return true
		}
	}
	return false
}

// Engine aggregates Evaluate across a rule set, mirroring
// check_breakpoints: a FullMatch on any single rule short-circuits and
// wins outright; otherwise every HeaderOnlyMatch rule is collected and
// returned together so CheckBody can later decide pause-worthiness.
type Engine struct {
	rules []model.Breakpoint
}

// New builds an Engine over rules.
func New(rules []model.Breakpoint) *Engine {
	return &Engine{rules: rules}
}

// Check evaluates every rule against one transaction phase.
func (e *Engine) Check(direction model.Direction, uri, method string, headers *model.Headers) ([]model.Breakpoint, model.MatchResult) {
	var headerOnly []model.Breakpoint
	for _, rule := range e.rules {
		switch Evaluate(rule, direction, uri, method, headers) {
		case model.FullMatch:
			return []model.Breakpoint{rule}, model.FullMatch
		case model.HeaderOnlyMatch:
			headerOnly = append(headerOnly, rule)
		case model.NoMatch:
			continue
		}
	}
	if len(headerOnly) > 0 {
		return headerOnly, model.HeaderOnlyMatch
	}
	return nil, model.NoMatch
}

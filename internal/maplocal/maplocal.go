// Package maplocal implements C5: short-circuiting a request to a
// canned local response instead of forwarding it upstream. Grounded on
// the original's MapLocal/MapLocalItem and check_need_map_local
// (models/map_local.rs), generalized here to actually match the rule's
// URL substring against the request URI as the spec requires, which
// the original's stub left undone.
package maplocal

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ezshark/ezshark-go/internal/model"
)

// Response is the synthesized reply a matching rule produces.
type Response struct {
	Status  int
	Headers *model.Headers
	Body    []byte
}

// Engine evaluates MapLocal rules against request URIs.
type Engine struct {
	cfg model.MapLocalConfig
}

// New builds an Engine over cfg.
func New(cfg model.MapLocalConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Match returns an enabled rule whose URL substring appears in uri, or
// ok=false if the tool is disabled or no rule matches. Rules are held
// in a map, so when several rules match, which one is returned is not
// defined.
func (e *Engine) Match(uri string) (model.MapLocalRule, bool) {
	if !e.cfg.ToolEnabled {
		return model.MapLocalRule{}, false
	}
	for _, rule := range e.cfg.Rules {
		if rule.Enabled && rule.URLSubstring != "" && strings.Contains(uri, rule.URLSubstring) {
			return rule, true
		}
	}
	return model.MapLocalRule{}, false
}

// Build synthesizes a 200 response from rule's header and body files.
// Both paths may be empty, yielding an empty 200. A header-file parse
// error is non-fatal: headers are skipped but the body is still
// served. A body-file read error degrades to an empty body rather than
// failing the whole short-circuit, in keeping with ConfigError's
// feature-disabled-not-fatal handling elsewhere in the pipeline.
func Build(rule model.MapLocalRule) Response {
	resp := Response{Status: 200, Headers: &model.Headers{}}

	if rule.HeadersFile != "" {
		if data, err := os.ReadFile(rule.HeadersFile); err == nil {
			var asMap map[string]string
			if jsonErr := json.Unmarshal(data, &asMap); jsonErr == nil {
				for name, value := range asMap {
					resp.Headers.Set(name, value)
				}
			}
		}
	}

	if rule.BodyFile != "" {
		if data, err := os.ReadFile(rule.BodyFile); err == nil {
			resp.Body = data
		}
	}

	return resp
}

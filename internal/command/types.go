// Package command implements the UI command surface (spec.md §6): one
// Dispatcher exposing every inbound operator command as a Go method,
// backed by the supervisor, pause registry, settings store and export
// package. Grounded on original_source's lib.rs command handlers
// (handle_debugger_command, handle_export_traffic, resend_traffic,
// on_resend_traffic, get_traffic_detail) for command semantics, and the
// teacher's ui.go for the HTTP adapter style built in http.go.
package command

import (
	"github.com/ezshark/ezshark-go/internal/model"
)

// TrafficDetail is get_traffic_detail's response shape: the head
// overview plus full headers, hex previews and decoded bodies.
type TrafficDetail struct {
	model.Head
	ReqHeaders *model.Headers `json:"req_headers,omitempty"`
	ResHeaders *model.Headers `json:"res_headers,omitempty"`

	ReqBodyHex string `json:"req_body_hex,omitempty"`
	ResBodyHex string `json:"res_body_hex,omitempty"`

	ReqBody string `json:"req_body,omitempty"`
	ResBody string `json:"res_body,omitempty"`

	Error string `json:"error,omitempty"`
}

// TrafficModification is the shared patch shape for both
// handle_debugger_command's ModifyTraffic variant and on_resend's
// payload, grounded on original_source's TrafficModification
// (state.rs): all fields but ID are optional, nil meaning "leave
// unchanged".
type TrafficModification struct {
	ID              string            `json:"id"`
	ModifiedType    string            `json:"modified_type,omitempty"`
	URL             *string           `json:"url,omitempty"`
	Method          *string           `json:"method,omitempty"`
	ModifiedHeaders map[string]string `json:"modified_headers,omitempty"`
	ModifiedBody    *string           `json:"modified_body,omitempty"`
}

// DebuggerCommand is handle_debugger_command's request shape, narrowed
// to the two variants spec.md §6 names: Continue and ModifyTraffic.
// (original_source's DebuggerCommand also carries UpdateBreakpoint/
// RemoveBreakpoint/ListBreakpoints — out of this command surface's
// named scope, so not implemented here.)
type DebuggerCommand struct {
	Type         string `json:"type"` // "continue" | "traffic_modification"
	ID           string `json:"id,omitempty"`
	Modification *TrafficModification `json:"modification,omitempty"`
}

// SearchPosition names which parts of a transaction a search term must
// match against, grounded on spec.md §6's
// "position:{request_url,request_header,response_header,request_body,
// response_body}".
type SearchPosition struct {
	RequestURL      bool `json:"request_url,omitempty"`
	RequestHeader   bool `json:"request_header,omitempty"`
	ResponseHeader  bool `json:"response_header,omitempty"`
	RequestBody     bool `json:"request_body,omitempty"`
	ResponseBody    bool `json:"response_body,omitempty"`
}

// SearchQuery is the search command's request shape.
type SearchQuery struct {
	Text     string         `json:"text"`
	Position SearchPosition `json:"position"`
}

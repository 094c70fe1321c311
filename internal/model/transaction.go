// Package model holds the data types shared across the interception
// engine: Transaction records, breakpoints, MapLocal rules and external
// proxy configuration.
package model

import (
	"strings"
	"sync"
	"time"
)

// TransactionState is the lifecycle state of a Transaction.
type TransactionState int

const (
	Requesting TransactionState = iota
	Responding
	ResponseDone
	Completed
	Failed
)

func (s TransactionState) String() string {
	switch s {
	case Requesting:
		return "Requesting"
	case Responding:
		return "Responding"
	case ResponseDone:
		return "ResponseDone"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Header is a single ordered, case-insensitive-compared header entry.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered list of Header preserving insertion order while
// supporting case-insensitive lookup.
type Headers struct {
	Items []Header `json:"items"`
}

// Get returns the first value whose name matches name case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, item := range h.Items {
		if strings.EqualFold(item.Name, name) {
			return item.Value, true
		}
	}
	return "", false
}

// Set updates the first header matching name case-insensitively, or
// appends a new entry if none is found.
func (h *Headers) Set(name, value string) {
	for i := range h.Items {
		if strings.EqualFold(h.Items[i].Name, name) {
			h.Items[i].Value = value
			return
		}
	}
	h.Items = append(h.Items, Header{Name: name, Value: value})
}

// ContainsSubstring reports whether any header name or value contains
// substr, case-insensitively.
func (h *Headers) ContainsSubstring(substr string) bool {
	if h == nil {
		return false
	}
	needle := strings.ToLower(substr)
	for _, item := range h.Items {
		if strings.Contains(strings.ToLower(item.Name), needle) ||
			strings.Contains(strings.ToLower(item.Value), needle) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of Headers.
func (h *Headers) Clone() *Headers {
	if h == nil {
		return nil
	}
	out := &Headers{Items: make([]Header, len(h.Items))}
	copy(out.Items, h.Items)
	return out
}

// Transaction is an immutable-after-publish record of one recorded
// HTTP exchange, with narrow mutation operations guarded by mu.
type Transaction struct {
	mu sync.Mutex

	GID       uint64 `json:"gid"`
	SessionID string `json:"session_id"`

	URI         string `json:"uri"`
	Method      string `json:"method"`
	HTTPVersion string `json:"http_version"`

	ReqHeaders *Headers `json:"req_headers,omitempty"`
	ResHeaders *Headers `json:"res_headers,omitempty"`

	Status *int `json:"status,omitempty"`

	ReqBodyFile string `json:"req_body_file,omitempty"`
	ResBodyFile string `json:"res_body_file,omitempty"`

	ReqBodyHex string `json:"req_body_hex,omitempty"`
	ResBodyHex string `json:"res_body_hex,omitempty"`

	ResBodySize int64 `json:"res_body_size"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	State TransactionState `json:"transaction_state"`
	Error string           `json:"error,omitempty"`

	Valid bool `json:"valid"`
}

// NewTransaction builds a Transaction in the Requesting state.
func NewTransaction(sessionID, method, uri, httpVersion string, reqHeaders *Headers) *Transaction {
	return &Transaction{
		SessionID:   sessionID,
		Method:      method,
		URI:         uri,
		HTTPVersion: httpVersion,
		ReqHeaders:  reqHeaders,
		StartTime:   time.Now().UTC(),
		State:       Requesting,
		Valid:       true,
	}
}

// Snapshot returns a deep copy safe to publish to readers without races.
func (t *Transaction) Snapshot() *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := &Transaction{
		GID:         t.GID,
		SessionID:   t.SessionID,
		URI:         t.URI,
		Method:      t.Method,
		HTTPVersion: t.HTTPVersion,
		ReqHeaders:  t.ReqHeaders.Clone(),
		ResHeaders:  t.ResHeaders.Clone(),
		ReqBodyFile: t.ReqBodyFile,
		ResBodyFile: t.ResBodyFile,
		ReqBodyHex:  t.ReqBodyHex,
		ResBodyHex:  t.ResBodyHex,
		ResBodySize: t.ResBodySize,
		StartTime:   t.StartTime,
		State:       t.State,
		Error:       t.Error,
		Valid:       t.Valid,
	}
	if t.Status != nil {
		status := *t.Status
		cp.Status = &status
	}
	if t.EndTime != nil {
		end := *t.EndTime
		cp.EndTime = &end
	}
	return cp
}

// SetResponding transitions to Responding, stamping EndTime and setting
// response headers/status. Terminal states never mutate further.
func (t *Transaction) SetResponding(status int, resHeaders *Headers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State == Completed || t.State == Failed {
		return
	}
	now := time.Now().UTC()
	t.EndTime = &now
	t.Status = &status
	t.ResHeaders = resHeaders
	t.State = Responding
}

// SetResBodyFile records the spool path for the response body once
// streaming begins.
func (t *Transaction) SetResBodyFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ResBodyFile = path
}

// SetReqBodyFile records the spool path for the request body once
// streaming begins.
func (t *Transaction) SetReqBodyFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReqBodyFile = path
}

// AppendError accumulates an error message onto the transaction.
func (t *Transaction) AppendError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Error == "" {
		t.Error = msg
	} else {
		t.Error = t.Error + "; " + msg
	}
}

// Fail transitions directly to the terminal Failed state.
func (t *Transaction) Fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State == Completed || t.State == Failed {
		return
	}
	t.State = Failed
	if msg != "" {
		if t.Error == "" {
			t.Error = msg
		} else {
			t.Error = t.Error + "; " + msg
		}
	}
}

// Finalize transitions a not-yet-terminal transaction to Completed
// (status < 400) or Failed and records the decoded response body size.
// It is a no-op once the transaction is Completed or Failed.
func (t *Transaction) Finalize(resBodySize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State == Completed || t.State == Failed {
		return
	}
	t.ResBodySize = resBodySize
	if t.Status != nil && *t.Status < 400 {
		t.State = Completed
	} else {
		t.State = Failed
	}
}

// FinalizeOpaque transitions a non-HTTP (opaque tunnel) transaction to
// Completed once the raw byte forwarding ends, since it never has an
// HTTP status to classify success/failure by.
func (t *Transaction) FinalizeOpaque(size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State == Completed || t.State == Failed {
		return
	}
	t.ResBodySize = size
	now := time.Now().UTC()
	t.EndTime = &now
	t.State = Completed
}

// IsTerminal reports whether the transaction is in a terminal state.
func (t *Transaction) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State == Completed || t.State == Failed
}

// Head is the compact overview published to the UI event bus.
type Head struct {
	GID             uint64  `json:"gid"`
	SessionID       string  `json:"session_id"`
	URI             string  `json:"uri"`
	Method          string  `json:"method"`
	Status          *int    `json:"status,omitempty"`
	TransactionState string `json:"transaction_state"`
	HTTPVersion     string  `json:"http_version"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// Head returns the current overview snapshot of the transaction.
func (t *Transaction) Head() Head {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := Head{
		GID:             t.GID,
		SessionID:       t.SessionID,
		URI:             t.URI,
		Method:          t.Method,
		TransactionState: t.State.String(),
		HTTPVersion:     t.HTTPVersion,
		StartTime:       t.StartTime,
	}
	if t.Status != nil {
		status := *t.Status
		h.Status = &status
	}
	if t.EndTime != nil {
		end := *t.EndTime
		h.EndTime = &end
	}
	return h
}

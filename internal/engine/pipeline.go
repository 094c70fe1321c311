// Package engine implements C7 (Connection State Machine), C8
// (Request Pipeline) and C9 (Proxy Server Supervisor). Pipeline is
// C8: the per-request orchestration grounded step-by-step on the
// original's handle/handle_request_breakpoint_and_pause/
// send_request_with_proxy/process_proxy_res/BodyWrapper/done_traffic
// (server.rs).
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ezshark/ezshark-go/internal/breakpoint"
	"github.com/ezshark/ezshark-go/internal/codec"
	"github.com/ezshark/ezshark-go/internal/events"
	"github.com/ezshark/ezshark-go/internal/logging"
	"github.com/ezshark/ezshark-go/internal/maplocal"
	"github.com/ezshark/ezshark-go/internal/model"
	"github.com/ezshark/ezshark-go/internal/pause"
	"github.com/ezshark/ezshark-go/internal/settings"
	"github.com/ezshark/ezshark-go/internal/txstore"
)

// requestBreakpointTimeout bounds how long the pipeline waits to read
// a full request/response body before evaluating a body-phase
// breakpoint condition, per spec.md §4.8 step 5.
const requestBreakpointTimeout = 10 * time.Second

// Pipeline is C8, wired to the stores and registries every pipeline
// step needs.
type Pipeline struct {
	Settings  *settings.Store
	Pause     *pause.Registry
	Emitter   events.Emitter
	Transport http.RoundTripper
	SpoolDir  string
	Logger    *logging.Logger

	store          atomic.Pointer[txstore.Store]
	monitorSession atomic.Value // string
}

// NewPipeline builds a Pipeline. transport is the upstream RoundTripper
// used for requests that bypass the external proxy; requests routed
// through the external proxy get a transport built from its settings.
func NewPipeline(store *txstore.Store, st *settings.Store, pr *pause.Registry, em events.Emitter, transport http.RoundTripper, spoolDir string, logger *logging.Logger) *Pipeline {
	p := &Pipeline{Settings: st, Pause: pr, Emitter: em, Transport: transport, SpoolDir: spoolDir, Logger: logger}
	p.store.Store(store)
	p.monitorSession.Store("")
	return p
}

// SetMonitorSession updates the process-wide monitor gate; "" disables
// recording.
func (p *Pipeline) SetMonitorSession(sessionID string) { p.monitorSession.Store(sessionID) }

// MonitorSession returns the current monitor gate value.
func (p *Pipeline) MonitorSession() string { return p.monitorSession.Load().(string) }

// Store returns the currently active transaction store, safe to call
// concurrently with SetStore (e.g. across a supervisor Restart).
func (p *Pipeline) Store() *txstore.Store { return p.store.Load() }

// SetStore atomically swaps the active transaction store.
func (p *Pipeline) SetStore(s *txstore.Store) { p.store.Store(s) }

// Handle is the entry point for one inner HTTP request, whether it
// arrived directly (plain proxy mode) or was re-served from a CONNECT
// tunnel with r.URL already carrying scheme+authority.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Host == "" {
		http.Error(w, "relative URI with no reverse proxy configured", http.StatusInternalServerError)
		return
	}

	sessionID := p.MonitorSession()
	monitored := sessionID != ""

	tx := model.NewTransaction(sessionID, r.Method, r.URL.String(), r.Proto, fromHTTPHeader(r.Header))
	if monitored {
		p.Store().Insert(tx)
		p.publish(events.NewTraffic, "new transaction", tx.Head())
	}

	cfg := p.Settings.Get()

	if rule, ok := maplocal.New(cfg.MapLocal).Match(r.URL.String()); ok {
		p.serveMapLocal(w, tx, rule, monitored)
		return
	}

	reqBody, err := p.maybeHandleRequestBreakpoint(r, tx, cfg)
	if err != nil {
		p.fail(w, tx, monitored, http.StatusInternalServerError, err)
		return
	}

	outReq := r.Clone(r.Context())
	if reqBody != nil {
		outReq.Body = io.NopCloser(bytes.NewReader(reqBody))
		outReq.ContentLength = int64(len(reqBody))
		outReq.Header.Set("Content-Length", strconv.Itoa(len(reqBody)))
	}

	connector, bypass := p.resolveProxyConnector(cfg, r.URL.String())
	if !bypass && connector != nil && outReq.URL.Scheme == "http" {
		for name, values := range connector.proxyHeaders() {
			for _, v := range values {
				outReq.Header.Add(name, v)
			}
		}
	}

	transport := p.Transport
	if !bypass && connector != nil {
		proxied := &http.Transport{Proxy: http.ProxyURL(connector.proxyURL())}
		if connector.scheme == model.ProxySchemeSocks {
			d, dErr := connector.socksDialer()
			if dErr != nil {
				p.fail(w, tx, monitored, http.StatusInternalServerError, fmt.Errorf("external proxy: %w", dErr))
				return
			}
			proxied = &http.Transport{Dial: d.Dial}
		}
		transport = proxied
	}

	resp, err := transport.RoundTrip(outReq)
	if err != nil {
		p.fail(w, tx, monitored, http.StatusInternalServerError, fmt.Errorf("upstream: %w", err))
		return
	}
	defer resp.Body.Close()

	tx.SetResponding(resp.StatusCode, fromHTTPHeader(resp.Header))
	if monitored {
		p.publish(events.NewTraffic, "response headers received", tx.Head())
	}

	resBody, status := p.maybeHandleResponseBreakpoint(resp, tx, cfg)

	for name, values := range toHTTPHeader(resBodyHeaders(resp, resBody)) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(status)

	n, spoolErr := p.streamAndSpoolResponseBody(w, tx, resp, resBody)
	if spoolErr != nil && p.Logger != nil {
		p.Logger.Warnf("gid=%d spool response body: %v", tx.GID, spoolErr)
	}

	tx.Finalize(n)
	if monitored {
		p.publish(events.NewTraffic, "transaction complete", tx.Head())
	}
}

func (p *Pipeline) publish(name events.Name, msg string, head model.Head) {
	if p.Emitter == nil {
		return
	}
	p.Emitter.Emit(name, events.Envelope{Status: "ok", Message: msg, Data: head})
}

// pausePayload is the pause-traffic event's data shape (spec.md §6:
// "pause-traffic: (pause_id, {traffic, body, direction})"), carrying
// the id the operator must pass back to Continue/ModifyTraffic.
type pausePayload struct {
	PauseID   string          `json:"pause_id"`
	Direction model.Direction `json:"direction"`
	Traffic   model.Head      `json:"traffic"`
	Body      string          `json:"body"`
}

func (p *Pipeline) publishPause(msg, pauseID string, direction model.Direction, head model.Head, body []byte) {
	if p.Emitter == nil {
		return
	}
	p.Emitter.Emit(events.PauseTraffic, events.Envelope{
		Status:  "ok",
		Message: msg,
		Data: pausePayload{
			PauseID:   pauseID,
			Direction: direction,
			Traffic:   head,
			Body:      string(body),
		},
	})
}

func (p *Pipeline) fail(w http.ResponseWriter, tx *model.Transaction, monitored bool, status int, err error) {
	tx.AppendError(err.Error())
	tx.Fail(err.Error())
	http.Error(w, "upstream error", status)
	if monitored {
		p.publish(events.NewTraffic, err.Error(), tx.Head())
	}
}

func (p *Pipeline) serveMapLocal(w http.ResponseWriter, tx *model.Transaction, rule model.MapLocalRule, monitored bool) {
	resp := maplocal.Build(rule)
	for _, h := range resp.Headers.Items {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	status := resp.Status
	tx.SetResponding(status, resp.Headers)
	tx.Finalize(int64(len(resp.Body)))
	if monitored {
		p.publish(events.NewTraffic, "maplocal short-circuit", tx.Head())
	}
}

// maybeHandleRequestBreakpoint evaluates C4 on the request phase; on a
// header-only match it reads the full body (bounded by
// requestBreakpointTimeout) to run the deferred body check, and on any
// match pauses via C6 until the operator resumes. It returns the final
// (possibly operator-modified) request body bytes, or nil if the body
// was never buffered (no match, so the original r.Body should stream
// through untouched by the caller).
func (p *Pipeline) maybeHandleRequestBreakpoint(r *http.Request, tx *model.Transaction, cfg settings.Settings) ([]byte, error) {
	rules := breakpointValues(cfg.Breakpoints)
	eng := breakpoint.New(rules)
	candidates, result := eng.Check(model.DirectionRequest, r.URL.String(), r.Method, fromHTTPHeader(r.Header))
	if result == model.NoMatch {
		return nil, nil
	}

	bodyBytes, err := readBodyWithTimeout(r.Body, requestBreakpointTimeout)
	if err != nil && p.Logger != nil {
		p.Logger.Warnf("gid=%d request body read timeout: %v", tx.GID, err)
	}

	// Decode up front (not just for the header-only body check): the
	// operator edits the plaintext body, and the original encoding is
	// needed to recompress it on resume (spec.md §4.8 step 5).
	enc := codec.ParseEncoding(r.Header.Get("Content-Encoding"))
	decoded, decErr := codec.Decompress(enc, bodyBytes)
	if decErr != nil {
		decoded = bodyBytes
		enc = codec.Identity
	}

	shouldPause := result == model.FullMatch
	if result == model.HeaderOnlyMatch {
		shouldPause = breakpoint.CheckBody(candidates, model.DirectionRequest, string(decoded))
	}

	if !shouldPause {
		return bodyBytes, nil
	}

	id := p.Pause.Pause(model.DirectionRequest, r.URL.String(), r.Method, fromHTTPHeader(r.Header), decoded)
	p.publishPause("request paused for inspection", id, model.DirectionRequest, tx.Head(), decoded)

	entry, err := p.Pause.Wait(id)
	if err != nil {
		return bodyBytes, err
	}

	if entry.URL != "" {
		if u, parseErr := url.Parse(entry.URL); parseErr == nil {
			r.URL = u
		}
	}
	r.Method = entry.Method
	if entry.Headers != nil {
		for _, h := range entry.Headers.Items {
			r.Header.Set(h.Name, h.Value)
		}
	}

	recompressed, compErr := codec.Compress(enc, entry.Body)
	if compErr != nil {
		if p.Logger != nil {
			p.Logger.Warnf("gid=%d recompress request body: %v", tx.GID, compErr)
		}
		recompressed = entry.Body
	}
	return recompressed, nil
}

// maybeHandleResponseBreakpoint mirrors maybeHandleRequestBreakpoint
// for the response direction, returning the (possibly modified) body
// bytes and the final status code to send the client.
func (p *Pipeline) maybeHandleResponseBreakpoint(resp *http.Response, tx *model.Transaction, cfg settings.Settings) ([]byte, int) {
	rules := breakpointValues(cfg.Breakpoints)
	eng := breakpoint.New(rules)
	candidates, result := eng.Check(model.DirectionResponse, tx.URI, tx.Method, fromHTTPHeader(resp.Header))
	if result == model.NoMatch {
		return nil, resp.StatusCode
	}

	bodyBytes, err := readBodyWithTimeout(resp.Body, requestBreakpointTimeout)
	if err != nil && p.Logger != nil {
		p.Logger.Warnf("gid=%d response body read timeout: %v", tx.GID, err)
	}

	// Decode up front, symmetric to the request side: the operator
	// edits the plaintext body and the original encoding is reapplied
	// on resume before the response is written to the client.
	enc := codec.ParseEncoding(resp.Header.Get("Content-Encoding"))
	decoded, decErr := codec.Decompress(enc, bodyBytes)
	if decErr != nil {
		decoded = bodyBytes
		enc = codec.Identity
	}

	shouldPause := result == model.FullMatch
	if result == model.HeaderOnlyMatch {
		shouldPause = breakpoint.CheckBody(candidates, model.DirectionResponse, string(decoded))
	}

	if !shouldPause {
		return bodyBytes, resp.StatusCode
	}

	id := p.Pause.Pause(model.DirectionResponse, tx.URI, tx.Method, fromHTTPHeader(resp.Header), decoded)
	p.publishPause("response paused for inspection", id, model.DirectionResponse, tx.Head(), decoded)

	entry, err := p.Pause.Wait(id)
	if err != nil {
		return bodyBytes, resp.StatusCode
	}
	if entry.Headers != nil {
		for _, h := range entry.Headers.Items {
			resp.Header.Set(h.Name, h.Value)
		}
	}

	recompressed, compErr := codec.Compress(enc, entry.Body)
	if compErr != nil {
		if p.Logger != nil {
			p.Logger.Warnf("gid=%d recompress response body: %v", tx.GID, compErr)
		}
		recompressed = entry.Body
	}
	return recompressed, resp.StatusCode
}

func (p *Pipeline) resolveProxyConnector(cfg settings.Settings, rawURL string) (*proxyConnector, bool) {
	if shouldBypassExternalProxy(cfg.ExternalProxy, rawURL) {
		return nil, true
	}
	entry, ok := cfg.ExternalProxy.Configurations[cfg.ExternalProxy.ProxyType]
	if !ok {
		return nil, true
	}
	connector, err := newProxyConnector(entry, cfg.ExternalProxy.ProxyType)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warnf("proxy password decrypt failed, bypassing external proxy: %v", err)
		}
		return nil, true
	}
	return connector, false
}

// streamAndSpoolResponseBody writes resBody (if the response was
// buffered for a breakpoint) or streams resp.Body directly to w while
// spooling a copy to the transaction's body file, returning the
// decoded byte count recorded as res_body_size.
func (p *Pipeline) streamAndSpoolResponseBody(w http.ResponseWriter, tx *model.Transaction, resp *http.Response, resBody []byte) (int64, error) {
	enc := codec.ParseEncoding(resp.Header.Get("Content-Encoding"))
	spoolFile := spoolPath(p.SpoolDir, tx.GID, "res", resp.Header.Get("Content-Type"), codec.Identity)
	tx.SetResBodyFile(spoolFile)

	var src io.Reader = resp.Body
	if resBody != nil {
		src = bytes.NewReader(resBody)
	}

	tee := io.TeeReader(src, w)
	n, err := spoolToFile(spoolFile+".raw", tee)
	if err != nil {
		return 0, err
	}

	decoded, decErr := decodeSpoolRaw(spoolFile+".raw", spoolFile, enc)
	if decErr != nil {
		decoded = n
	}

	if codec.SniffProtobuf(resp.Header.Get("Content-Type")) {
		p.maybeDecodeProtobufSibling(spoolFile)
	}

	return decoded, nil
}

func decodeSpoolRaw(rawPath, finalPath string, enc codec.Encoding) (int64, error) {
	defer os.Remove(rawPath)
	if enc == codec.Identity || enc == "" {
		if err := os.Rename(rawPath, finalPath); err != nil {
			return 0, err
		}
		info, err := os.Stat(finalPath)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return 0, err
	}
	decoded, decErr := codec.Decompress(enc, raw)
	if decErr != nil {
		decoded = raw
	}
	if err := os.WriteFile(finalPath, decoded, 0o644); err != nil {
		return 0, err
	}
	return int64(len(decoded)), nil
}

func (p *Pipeline) maybeDecodeProtobufSibling(finalPath string) {
	raw, err := os.ReadFile(finalPath)
	if err != nil {
		return
	}
	decoded, err := codec.DecodeUnknownProtobuf(raw)
	if err != nil {
		return
	}
	jsonBytes, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(finalPath+".json", jsonBytes, 0o644)
}

func readBodyWithTimeout(r io.ReadCloser, timeout time.Duration) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func breakpointValues(m map[string]model.Breakpoint) []model.Breakpoint {
	out := make([]model.Breakpoint, 0, len(m))
	for _, bp := range m {
		out = append(out, bp)
	}
	return out
}

func resBodyHeaders(resp *http.Response, resBody []byte) *model.Headers {
	h := fromHTTPHeader(resp.Header)
	if resBody != nil {
		h.Set("Content-Length", strconv.Itoa(len(resBody)))
	}
	return h
}

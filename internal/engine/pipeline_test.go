package engine

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ezshark/ezshark-go/internal/codec"
	"github.com/ezshark/ezshark-go/internal/events"
	"github.com/ezshark/ezshark-go/internal/model"
	"github.com/ezshark/ezshark-go/internal/pause"
	"github.com/ezshark/ezshark-go/internal/settings"
	"github.com/ezshark/ezshark-go/internal/txstore"
)

func newTestPipeline(t *testing.T) (*Pipeline, *settings.Store) {
	t.Helper()
	st := settings.Load(t.TempDir() + "/settings.json")
	store := txstore.New(10)
	pr := pause.New()
	broker := events.NewBroker()
	return NewPipeline(store, st, pr, broker, http.DefaultTransport, t.TempDir(), nil), st
}

func TestHandleRejectsRelativeURI(t *testing.T) {
	p, _ := newTestPipeline(t)
	req := httptest.NewRequest(http.MethodGet, "/no-host", nil)
	req.URL.Host = ""
	w := httptest.NewRecorder()
	p.Handle(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHandleForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from upstream"))
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t)
	p.SetMonitorSession("sess-1")

	target, _ := url.Parse(upstream.URL)
	req := httptest.NewRequest(http.MethodGet, upstream.URL, nil)
	req.URL = target

	w := httptest.NewRecorder()
	p.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "hello from upstream" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("X-Upstream"); got != "yes" {
		t.Fatalf("X-Upstream header = %q", got)
	}

	all := p.Store().All()
	if len(all) != 1 {
		t.Fatalf("expected 1 recorded transaction, got %d", len(all))
	}
	if all[0].State != model.Completed {
		t.Fatalf("transaction state = %v, want Completed", all[0].State)
	}
}

func TestHandleDoesNotRecordWhenUnmonitored(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t)
	target, _ := url.Parse(upstream.URL)
	req := httptest.NewRequest(http.MethodGet, upstream.URL, nil)
	req.URL = target

	w := httptest.NewRecorder()
	p.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if n := p.Store().Len(); n != 0 {
		t.Fatalf("expected no recorded transactions while unmonitored, got %d", n)
	}
}

func TestHandleMapLocalShortCircuit(t *testing.T) {
	dir := t.TempDir()
	bodyFile := dir + "/body.txt"
	if err := os.WriteFile(bodyFile, []byte("canned response"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, st := newTestPipeline(t)
	p.SetMonitorSession("sess-1")
	_ = st.Update(func(s *settings.Settings) {
		s.MapLocal.ToolEnabled = true
		s.MapLocal.Rules = map[string]model.MapLocalRule{
			"r1": {ID: "r1", Enabled: true, URLSubstring: "/mapped", BodyFile: bodyFile},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/mapped/thing", nil)
	w := httptest.NewRecorder()
	p.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "canned response" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestHandlePausesOnFullMatchBreakpointAndResumes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	p, st := newTestPipeline(t)
	p.SetMonitorSession("sess-1")
	_ = st.Update(func(s *settings.Settings) {
		s.Breakpoints = map[string]model.Breakpoint{
			"bp1": {ID: "bp1", Enabled: true, ReqEnable: true, URLSubstring: "/"},
		}
	})

	target, _ := url.Parse(upstream.URL)
	req := httptest.NewRequest(http.MethodPost, upstream.URL, io.NopCloser(strings.NewReader("original body")))
	req.URL = target

	done := make(chan string, 1)
	go func() {
		w := httptest.NewRecorder()
		p.Handle(w, req)
		done <- w.Body.String()
	}()

	id := waitForPause(t, p)
	if err := p.Pause.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	select {
	case body := <-done:
		if body != "original body" {
			t.Fatalf("body = %q, want unchanged passthrough", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not complete after Resume")
	}
}

// waitForPause polls the pause registry until the paused request
// appears, returning its id.
func waitForPause(t *testing.T, p *Pipeline) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := p.Pause.IDs(); len(ids) == 1 {
			return ids[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for request to pause")
	return ""
}

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// TestPauseTrafficEventCarriesPauseID verifies the pause-traffic event
// itself carries the pause id (spec.md §6), not just the transaction
// head, so an operator can drive Continue/ModifyTraffic without
// reaching into the pause registry directly.
func TestPauseTrafficEventCarriesPauseID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, st := newTestPipeline(t)
	p.SetMonitorSession("sess-1")
	_ = st.Update(func(s *settings.Settings) {
		s.Breakpoints = map[string]model.Breakpoint{
			"bp1": {ID: "bp1", Enabled: true, ReqEnable: true, URLSubstring: "/"},
		}
	})

	broker := p.Emitter.(*events.Broker)
	ch := broker.Subscribe(4)
	defer broker.Unsubscribe(ch)

	target, _ := url.Parse(upstream.URL)
	req := httptest.NewRequest(http.MethodPost, upstream.URL, io.NopCloser(strings.NewReader("body")))
	req.URL = target

	done := make(chan struct{})
	go func() {
		w := httptest.NewRecorder()
		p.Handle(w, req)
		close(done)
	}()

	// A monitored request publishes new-traffic before it pauses, so skip
	// ahead to the pause-traffic event.
	var evt events.Event
	deadline := time.After(2 * time.Second)
	for evt.Name != events.PauseTraffic {
		select {
		case evt = <-ch:
		case <-deadline:
			t.Fatal("timed out waiting for pause-traffic event")
		}
	}
	if evt.Name != events.PauseTraffic {
		t.Fatalf("event name = %q, want %q", evt.Name, events.PauseTraffic)
	}
	payload, ok := evt.Body.Data.(pausePayload)
	if !ok {
		t.Fatalf("event data type = %T, want pausePayload", evt.Body.Data)
	}
	if payload.PauseID == "" {
		t.Fatal("expected non-empty pause id in event payload")
	}
	if payload.Direction != model.DirectionRequest {
		t.Fatalf("direction = %q, want request", payload.Direction)
	}
	if payload.Body != "body" {
		t.Fatalf("body = %q, want decoded %q", payload.Body, "body")
	}

	id := waitForPause(t, p)
	if id != payload.PauseID {
		t.Fatalf("registry id %q != event pause id %q", id, payload.PauseID)
	}
	if err := p.Pause.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	<-done
}

// TestHandleRecompressesModifiedRequestBody verifies that a
// gzip-encoded request body, replaced with plaintext JSON via Modify,
// is recompressed before reaching upstream with a matching
// Content-Length (spec.md §4.8 step 5, E2E scenario #2).
func TestHandleRecompressesModifiedRequestBody(t *testing.T) {
	var gotBody []byte
	var gotEncoding string
	var gotContentLength string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		gotContentLength = r.Header.Get("Content-Length")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, st := newTestPipeline(t)
	p.SetMonitorSession("sess-1")
	_ = st.Update(func(s *settings.Settings) {
		s.Breakpoints = map[string]model.Breakpoint{
			"bp1": {ID: "bp1", Enabled: true, ReqEnable: true, URLSubstring: "/"},
		}
	})

	original := gzipBytes(t, "original body")
	target, _ := url.Parse(upstream.URL)
	req := httptest.NewRequest(http.MethodPost, upstream.URL, io.NopCloser(bytes.NewReader(original)))
	req.URL = target
	req.Header.Set("Content-Encoding", "gzip")

	done := make(chan struct{})
	go func() {
		w := httptest.NewRecorder()
		p.Handle(w, req)
		close(done)
	}()

	id := waitForPause(t, p)
	newBody := `{"replaced":true}`
	if err := p.Pause.Modify(id, pause.Patch{Body: []byte(newBody)}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := p.Pause.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	<-done

	if gotEncoding != "gzip" {
		t.Fatalf("upstream Content-Encoding = %q, want gzip", gotEncoding)
	}
	decoded, err := codec.Decompress(codec.Gzip, gotBody)
	if err != nil {
		t.Fatalf("upstream body is not valid gzip: %v", err)
	}
	if string(decoded) != newBody {
		t.Fatalf("decoded upstream body = %q, want %q", decoded, newBody)
	}
	if gotContentLength != strconv.Itoa(len(gotBody)) {
		t.Fatalf("Content-Length = %q, want %d (actual gzipped size)", gotContentLength, len(gotBody))
	}
}

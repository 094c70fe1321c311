package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ezshark/ezshark-go/internal/model"
)

func newTestTransaction(t *testing.T, dir string, gid uint64, status int) *model.Transaction {
	t.Helper()
	headers := &model.Headers{Items: []model.Header{{Name: "Content-Type", Value: "text/plain"}}}
	tx := model.NewTransaction("sess-1", "GET", "http://example.com/path", "HTTP/1.1", headers)
	tx.GID = gid
	tx.SetResponding(status, headers)

	reqPath := filepath.Join(dir, "req.bin")
	resPath := filepath.Join(dir, "res.bin")
	writeFileOrFatal(t, reqPath, "request-body")
	writeFileOrFatal(t, resPath, "response-body")
	tx.SetReqBodyFile(reqPath)
	tx.SetResBodyFile(resPath)
	tx.Finalize(int64(len("response-body")))
	return tx
}

func writeFileOrFatal(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestInferFormat(t *testing.T) {
	cases := map[string]Format{
		"out.md":       Markdown,
		"out.har":      HAR,
		"out.sh":       Curl,
		"out.json":     JSON,
		"out.txt":      Text,
		"out":          Text,
		"OUT.MD":       Markdown,
	}
	for path, want := range cases {
		if got := InferFormat(path); got != want {
			t.Fatalf("InferFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	dir := t.TempDir()
	tx := newTestTransaction(t, dir, 1, 200)

	out, err := Render([]*model.Transaction{tx}, Markdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "## GET http://example.com/path") {
		t.Fatalf("missing heading: %s", s)
	}
	if !strings.Contains(s, "request-body") || !strings.Contains(s, "response-body") {
		t.Fatalf("missing bodies: %s", s)
	}
}

func TestRenderCurl(t *testing.T) {
	dir := t.TempDir()
	tx := newTestTransaction(t, dir, 1, 200)

	out, err := Render([]*model.Transaction{tx}, Curl)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "curl -X GET 'http://example.com/path'") {
		t.Fatalf("unexpected curl command: %s", s)
	}
	if !strings.Contains(s, "--data-raw 'request-body'") {
		t.Fatalf("missing body flag: %s", s)
	}
}

func TestRenderJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tx := newTestTransaction(t, dir, 42, 201)

	out, err := Render([]*model.Transaction{tx}, JSON)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	jsonPath := filepath.Join(dir, "dump.json")
	writeFileOrFatal(t, jsonPath, string(out))

	spoolDir := t.TempDir()
	txs, err := ImportSession(jsonPath, "sess-2", spoolDir)
	if err != nil {
		t.Fatalf("ImportSession: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	got := txs[0]
	if got.GID != 42 || got.Method != "GET" || got.URI != "http://example.com/path" {
		t.Fatalf("unexpected round-tripped head: %+v", got)
	}
	if got.Status == nil || *got.Status != 201 {
		t.Fatalf("unexpected status: %+v", got.Status)
	}
	body := loadBody(got.ReqBodyFile)
	if string(body) != "request-body" {
		t.Fatalf("unexpected req body: %q", body)
	}
}

func TestRenderTextFallback(t *testing.T) {
	dir := t.TempDir()
	tx := newTestTransaction(t, dir, 1, 500)

	out, err := Render([]*model.Transaction{tx}, Format("unknown"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), "GET http://example.com/path -> 500") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ezshark/ezshark-go/internal/model"
)

// HAR 1.2 structures, trimmed to the fields this proxy actually
// populates on export and reads back on import. Grounded on
// original_source's export_all_traffics "har" branch (state.rs),
// which builds one HAR entry per Traffic via wrap_entries/har_entry;
// the per-entry field layout here follows the public HAR 1.2 spec
// since the original's har_entry body (traffic.rs) isn't in the pack.
type harDoc struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string      `json:"version"`
	Creator harCreator  `json:"creator"`
	Entries []harEntry  `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []harHeader  `json:"headers"`
	HeadersSize int          `json:"headersSize"`
	BodySize    int          `json:"bodySize"`
	PostData    *harPostData `json:"postData,omitempty"`
}

type harContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

type harResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []harHeader `json:"headers"`
	Content     harContent `json:"content"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int        `json:"bodySize"`
}

type harEntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         harRequest  `json:"request"`
	Response        harResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
}

func toHARHeaders(h *model.Headers) []harHeader {
	if h == nil {
		return []harHeader{}
	}
	out := make([]harHeader, 0, len(h.Items))
	for _, item := range h.Items {
		out = append(out, harHeader{Name: item.Name, Value: item.Value})
	}
	return out
}

func headerValue(headers []harHeader, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func renderHAR(txs []*model.Transaction) ([]byte, error) {
	doc := harDoc{Log: harLog{
		Version: "1.2",
		Creator: harCreator{Name: "ez-shark", Version: "1.0"},
		Entries: make([]harEntry, 0, len(txs)),
	}}

	for _, tx := range txs {
		entry := harEntry{
			StartedDateTime: tx.StartTime.UTC().Format("2006-01-02T15:04:05.000Z"),
			Request: harRequest{
				Method:      tx.Method,
				URL:         tx.URI,
				HTTPVersion: tx.HTTPVersion,
				Headers:     toHARHeaders(tx.ReqHeaders),
				HeadersSize: -1,
				BodySize:    -1,
			},
			Response: harResponse{
				Status:      statusOrZero(tx.Status),
				HTTPVersion: tx.HTTPVersion,
				Headers:     toHARHeaders(tx.ResHeaders),
				HeadersSize: -1,
				BodySize:    -1,
			},
		}
		if tx.EndTime != nil {
			entry.Time = float64(tx.EndTime.Sub(tx.StartTime).Milliseconds())
		}
		if reqBody := loadBody(tx.ReqBodyFile); len(reqBody) > 0 {
			entry.Request.PostData = &harPostData{
				MimeType: headerValue(entry.Request.Headers, "Content-Type"),
				Text:     string(reqBody),
			}
		}
		resBody := loadBody(tx.ResBodyFile)
		entry.Response.Content = harContent{
			Size:     len(resBody),
			MimeType: headerValue(entry.Response.Headers, "Content-Type"),
			Text:     string(resBody),
		}
		doc.Log.Entries = append(doc.Log.Entries, entry)
	}

	return json.MarshalIndent(doc, "", "  ")
}

// ImportHAR parses a HAR file's entries into fresh Transactions under
// sessionID, spooling bodies under spoolDir the same way ImportSession
// does.
func ImportHAR(path, sessionID, spoolDir string) ([]*model.Transaction, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: import har: %w", err)
	}
	var doc harDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("export: import har: parse: %w", err)
	}

	out := make([]*model.Transaction, 0, len(doc.Log.Entries))
	for i, e := range doc.Log.Entries {
		reqHeaders := fromHARHeaders(e.Request.Headers)
		tx := model.NewTransaction(sessionID, e.Request.Method, e.Request.URL, e.Request.HTTPVersion, reqHeaders)
		tx.SetResponding(e.Response.Status, fromHARHeaders(e.Response.Headers))

		if e.Request.PostData != nil && e.Request.PostData.Text != "" {
			if p, werr := spoolImportBody(spoolDir, i, "req", e.Request.PostData.Text); werr == nil {
				tx.SetReqBodyFile(p)
			}
		}
		if e.Response.Content.Text != "" {
			if p, werr := spoolImportBody(spoolDir, i, "res", e.Response.Content.Text); werr == nil {
				tx.SetResBodyFile(p)
			}
		}

		tx.Finalize(int64(len(e.Response.Content.Text)))
		out = append(out, tx)
	}
	return out, nil
}

func fromHARHeaders(headers []harHeader) *model.Headers {
	h := &model.Headers{}
	for _, hh := range headers {
		h.Items = append(h.Items, model.Header{Name: hh.Name, Value: hh.Value})
	}
	return h
}

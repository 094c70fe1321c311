package export

import (
	"encoding/json"

	"github.com/ezshark/ezshark-go/internal/model"
)

// jsonTransaction is the export_traffic "json" format shape: the
// transaction's head fields plus inlined request/response bodies
// (read from their spool files), since a standalone export file can't
// point back at this process's temp directory.
type jsonTransaction struct {
	GID         uint64         `json:"gid"`
	SessionID   string         `json:"session_id"`
	URI         string         `json:"uri"`
	Method      string         `json:"method"`
	HTTPVersion string         `json:"http_version"`
	ReqHeaders  *model.Headers `json:"req_headers,omitempty"`
	ResHeaders  *model.Headers `json:"res_headers,omitempty"`
	Status      *int           `json:"status,omitempty"`
	ReqBody     string         `json:"req_body,omitempty"`
	ResBody     string         `json:"res_body,omitempty"`
	State       string         `json:"transaction_state"`
	Error       string         `json:"error,omitempty"`
}

func toJSONTransaction(tx *model.Transaction) jsonTransaction {
	return jsonTransaction{
		GID:         tx.GID,
		SessionID:   tx.SessionID,
		URI:         tx.URI,
		Method:      tx.Method,
		HTTPVersion: tx.HTTPVersion,
		ReqHeaders:  tx.ReqHeaders,
		ResHeaders:  tx.ResHeaders,
		Status:      tx.Status,
		ReqBody:     string(loadBody(tx.ReqBodyFile)),
		ResBody:     string(loadBody(tx.ResBodyFile)),
		State:       tx.State.String(),
		Error:       tx.Error,
	}
}

func renderJSON(txs []*model.Transaction) ([]byte, error) {
	out := make([]jsonTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toJSONTransaction(tx))
	}
	return json.MarshalIndent(out, "", "  ")
}

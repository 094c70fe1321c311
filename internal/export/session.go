package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ezshark/ezshark-go/internal/model"
)

// ImportSession parses a JSON array of transactions (the same shape
// Render(JSON) produces) and rebuilds in-memory Transactions under
// sessionID, spooling any inlined bodies to fresh files under
// spoolDir so they read back the same way a live-captured transaction
// does. Grounded on spec.md §6's "import_session(session_id, path) —
// JSON array of Transactions".
func ImportSession(path, sessionID, spoolDir string) ([]*model.Transaction, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: import session: %w", err)
	}
	var parsed []jsonTransaction
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("export: import session: parse: %w", err)
	}

	out := make([]*model.Transaction, 0, len(parsed))
	for i, jt := range parsed {
		tx := model.NewTransaction(sessionID, jt.Method, jt.URI, jt.HTTPVersion, jt.ReqHeaders)
		tx.GID = jt.GID
		tx.SetResponding(statusOrZero(jt.Status), jt.ResHeaders)

		if jt.ReqBody != "" {
			if p, err := spoolImportBody(spoolDir, i, "req", jt.ReqBody); err == nil {
				tx.SetReqBodyFile(p)
			}
		}
		if jt.ResBody != "" {
			if p, err := spoolImportBody(spoolDir, i, "res", jt.ResBody); err == nil {
				tx.SetResBodyFile(p)
			}
		}

		if jt.Error != "" {
			tx.Fail(jt.Error)
		} else {
			tx.Finalize(int64(len(jt.ResBody)))
		}
		out = append(out, tx)
	}
	return out, nil
}

// spoolImportBody writes body text to a fresh file under spoolDir so an
// imported transaction can be read back the same way a live-captured one
// is, via its ReqBodyFile/ResBodyFile path.
func spoolImportBody(spoolDir string, index int, kind, body string) (string, error) {
	p := filepath.Join(spoolDir, fmt.Sprintf("import-%d-%s.bin", index, kind))
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func statusOrZero(status *int) int {
	if status == nil {
		return 0
	}
	return *status
}

package command

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ezshark/ezshark-go/internal/engine"
	"github.com/ezshark/ezshark-go/internal/events"
	"github.com/ezshark/ezshark-go/internal/export"
	"github.com/ezshark/ezshark-go/internal/logging"
	"github.com/ezshark/ezshark-go/internal/model"
	"github.com/ezshark/ezshark-go/internal/pause"
	"github.com/ezshark/ezshark-go/internal/searchhistory"
)

// hexPreviewLimit bounds how many body bytes get hex-encoded for
// get_traffic_detail's preview, matching the spirit of the original's
// bounded hex dump without holding arbitrarily large strings in memory.
const hexPreviewLimit = 4096

// ErrNotFound is returned when a command targets an unknown
// transaction, session, or paused id.
var ErrNotFound = errors.New("command: not found")

// Dispatcher is the UI command surface, wired to the running engine.
type Dispatcher struct {
	Supervisor *engine.Supervisor
	Pause      *pause.Registry
	Emitter    events.Emitter
	Logger     *logging.Logger
	SpoolDir   string

	SearchHistory *searchhistory.Store
}

// New builds a Dispatcher over an already-wired Supervisor/Pause pair.
func New(sup *engine.Supervisor, pr *pause.Registry, em events.Emitter, logger *logging.Logger, spoolDir string) *Dispatcher {
	return &Dispatcher{
		Supervisor:    sup,
		Pause:         pr,
		Emitter:       em,
		Logger:        logger,
		SpoolDir:      spoolDir,
		SearchHistory: searchhistory.New(100),
	}
}

// SettingPort restarts the listener on a new port, preserving traffic
// history (Supervisor.Restart's migrate-from behavior).
func (d *Dispatcher) SettingPort(port int) error {
	return d.Supervisor.Restart(port)
}

// ChangeMonitorTraffic switches the active monitor session; ""
// disables monitoring (mapped onto Supervisor.Pause), any other value
// enables/switches recording under that session id.
func (d *Dispatcher) ChangeMonitorTraffic(sessionID string) error {
	if sessionID == "" {
		d.Supervisor.Pause()
		return nil
	}
	d.Supervisor.Resume(sessionID)
	return nil
}

// GetMonitorSessionID returns the currently active monitor session id,
// "" if monitoring is disabled.
func (d *Dispatcher) GetMonitorSessionID() string {
	return d.Supervisor.Pipeline.MonitorSession()
}

// GetTrafficDetail returns the full detail view for one transaction,
// verifying it belongs to sessionID.
func (d *Dispatcher) GetTrafficDetail(sessionID string, gid uint64) (*TrafficDetail, error) {
	tx, ok := d.Supervisor.Pipeline.Store().Get(gid)
	if !ok || tx.SessionID != sessionID {
		return nil, ErrNotFound
	}
	snap := tx.Snapshot()

	reqBody := readBody(snap.ReqBodyFile)
	resBody := readBody(snap.ResBodyFile)

	return &TrafficDetail{
		Head:       snap.Head(),
		ReqHeaders: snap.ReqHeaders,
		ResHeaders: snap.ResHeaders,
		ReqBodyHex: hexPreview(reqBody),
		ResBodyHex: hexPreview(resBody),
		ReqBody:    string(reqBody),
		ResBody:    string(resBody),
		Error:      snap.Error,
	}, nil
}

// HandleDebuggerCommand dispatches a Continue or ModifyTraffic command
// against the pause registry. Continue resumes unmodified; ModifyTraffic
// patches the suspended entry without resuming it, mirroring
// original_source's continue_traffic / modify_paused_traffic split.
func (d *Dispatcher) HandleDebuggerCommand(cmd DebuggerCommand) error {
	switch cmd.Type {
	case "continue":
		return d.Pause.Resume(cmd.ID)
	case "traffic_modification":
		if cmd.Modification == nil {
			return fmt.Errorf("command: traffic_modification requires a modification payload")
		}
		return d.Pause.Modify(cmd.Modification.ID, modificationToPatch(*cmd.Modification))
	default:
		return fmt.Errorf("command: unsupported debugger command %q", cmd.Type)
	}
}

func modificationToPatch(m TrafficModification) pause.Patch {
	patch := pause.Patch{URL: m.URL, Method: m.Method}
	if len(m.ModifiedHeaders) > 0 {
		headers := &model.Headers{}
		for name, value := range m.ModifiedHeaders {
			headers.Set(name, value)
		}
		patch.Headers = headers
	}
	if m.ModifiedBody != nil {
		patch.Body = []byte(*m.ModifiedBody)
	}
	return patch
}

// HandleExportTraffic renders every transaction in sessionID to path,
// inferring the format from its extension.
func (d *Dispatcher) HandleExportTraffic(sessionID, path string) error {
	txs := d.Supervisor.Pipeline.Store().BySession(sessionID)
	return export.Write(txs, path)
}

// HandleCopyTraffic renders a single transaction in the requested
// format and returns it as a string, for a UI "copy to clipboard"
// action rather than a file write.
func (d *Dispatcher) HandleCopyTraffic(gid uint64, format export.Format, sessionID string) (string, error) {
	tx, ok := d.Supervisor.Pipeline.Store().Get(gid)
	if !ok || tx.SessionID != sessionID {
		return "", ErrNotFound
	}
	out, err := export.Render([]*model.Transaction{tx}, format)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ImportSession loads a JSON transaction dump into sessionID's store.
func (d *Dispatcher) ImportSession(sessionID, path string) error {
	txs, err := export.ImportSession(path, sessionID, d.SpoolDir)
	if err != nil {
		return err
	}
	d.insertAll(txs)
	return nil
}

// ImportHAR loads a HAR file into sessionID's store.
func (d *Dispatcher) ImportHAR(sessionID, path string) error {
	txs, err := export.ImportHAR(path, sessionID, d.SpoolDir)
	if err != nil {
		return err
	}
	d.insertAll(txs)
	return nil
}

// ImportCharles converts a Charles session to HAR via the configured
// charles binary, then imports it the same way ImportHAR does.
func (d *Dispatcher) ImportCharles(sessionID, path string) error {
	cfg := d.Supervisor.Pipeline.Settings.Get()
	if cfg.CharlesPath == "" {
		return fmt.Errorf("command: no charlesPath configured in settings")
	}
	harOut := path + ".har"
	txs, err := export.ImportCharles(cfg.CharlesPath, path, harOut, sessionID, d.SpoolDir)
	if err != nil {
		return err
	}
	d.insertAll(txs)
	return nil
}

func (d *Dispatcher) insertAll(txs []*model.Transaction) {
	store := d.Supervisor.Pipeline.Store()
	for _, tx := range txs {
		store.Insert(tx)
	}
}

// Search scans sessionID's transactions for query.Text appearing in
// any of the positions query.Position enables, returning matching
// heads. A non-blank query is also recorded in SearchHistory.
func (d *Dispatcher) Search(query SearchQuery, sessionID string) []model.Head {
	if d.SearchHistory != nil {
		d.SearchHistory.Record(query.Text, sessionID)
	}

	var out []model.Head
	for _, tx := range d.Supervisor.Pipeline.Store().BySession(sessionID) {
		if matchesSearch(tx, query) {
			out = append(out, tx.Head())
		}
	}
	return out
}

func matchesSearch(tx *model.Transaction, query SearchQuery) bool {
	if query.Text == "" {
		return true
	}
	if query.Position.RequestURL && containsFold(tx.URI, query.Text) {
		return true
	}
	if query.Position.RequestHeader && tx.ReqHeaders.ContainsSubstring(query.Text) {
		return true
	}
	if query.Position.ResponseHeader && tx.ResHeaders.ContainsSubstring(query.Text) {
		return true
	}
	if query.Position.RequestBody && containsFold(string(readBody(tx.ReqBodyFile)), query.Text) {
		return true
	}
	if query.Position.ResponseBody && containsFold(string(readBody(tx.ResBodyFile)), query.Text) {
		return true
	}
	return false
}

// DeleteTraffic removes ids from sessionID's store, skipping any id
// that doesn't exist or belongs to a different session.
func (d *Dispatcher) DeleteTraffic(sessionID string, ids []uint64) {
	store := d.Supervisor.Pipeline.Store()
	for _, gid := range ids {
		if tx, ok := store.Get(gid); ok && tx.SessionID == sessionID {
			store.Remove(gid)
		}
	}
}

// Resend publishes a resend-traffic event carrying tx's request so the
// UI can present it for editing, mirroring original_source's
// resend_traffic: it signals the UI rather than re-sending directly.
func (d *Dispatcher) Resend(gid uint64) (string, error) {
	tx, ok := d.Supervisor.Pipeline.Store().Get(gid)
	if !ok {
		return "", ErrNotFound
	}
	snap := tx.Snapshot()
	resendID := uuid.NewString()

	if d.Emitter != nil {
		d.Emitter.Emit(events.ResendTraffic, events.Envelope{
			Status:  "ok",
			Message: "resend",
			Data: map[string]any{
				"resend_id": resendID,
				"traffic":   snap.Head(),
				"body":      string(readBody(snap.ReqBodyFile)),
			},
		})
	}
	return resendID, nil
}

// OnResend issues a fresh HTTP request built from mod's fields through
// this process's own listening port, so the resend is captured as
// ordinary traffic — grounded on original_source's on_resend_traffic,
// which builds a reqwest client proxied through the engine's own
// current_port for the same reason.
func (d *Dispatcher) OnResend(mod TrafficModification) error {
	if mod.URL == nil || *mod.URL == "" {
		return fmt.Errorf("command: on_resend requires a url")
	}
	if mod.Method == nil || *mod.Method == "" {
		return fmt.Errorf("command: on_resend requires a method")
	}

	port := d.Supervisor.Port()
	if port == 0 {
		return fmt.Errorf("command: engine is not running")
	}
	proxyURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		return err
	}

	var body *bytes.Reader
	if mod.ModifiedBody != nil {
		body = bytes.NewReader([]byte(*mod.ModifiedBody))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(*mod.Method, *mod.URL, body)
	if err != nil {
		return err
	}
	for name, value := range mod.ModifiedHeaders {
		req.Header.Set(name, value)
	}

	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			if d.Logger != nil {
				d.Logger.Warnf("on_resend: request failed: %v", err)
			}
			return
		}
		defer resp.Body.Close()
	}()
	return nil
}

func readBody(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return b
}

func hexPreview(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > hexPreviewLimit {
		body = body[:hexPreviewLimit]
	}
	return hex.EncodeToString(body)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package command

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ezshark/ezshark-go/internal/export"
)

// Handler builds the REST adapter over Dispatcher: one route per
// command, JSON request/response bodies, grounded on the teacher's
// buildUIHandler (src/ui.go) route-per-resource style, generalized
// from http.ServeMux to gorilla/mux for the path-parameter routes this
// surface needs (/api/traffic/{session}/{gid} and friends).
func Handler(d *Dispatcher) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/port", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Port int `json:"port"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := d.SettingPort(body.Port); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/monitor", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]string{"session_id": d.GetMonitorSessionID()})
		case http.MethodPost:
			var body struct {
				SessionID string `json:"session_id"`
			}
			if !decodeJSON(w, r, &body) {
				return
			}
			if err := d.ChangeMonitorTraffic(body.SessionID); err != nil {
				writeError(w, err)
				return
			}
			writeSuccess(w)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/api/traffic/{session}/{gid}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		gid, err := strconv.ParseUint(vars["gid"], 10, 64)
		if err != nil {
			http.Error(w, "bad gid", http.StatusBadRequest)
			return
		}
		detail, err := d.GetTrafficDetail(vars["session"], gid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, detail)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/traffic/{session}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []uint64 `json:"ids"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		d.DeleteTraffic(mux.Vars(r)["session"], body.IDs)
		writeSuccess(w)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/api/debugger", func(w http.ResponseWriter, r *http.Request) {
		var cmd DebuggerCommand
		if !decodeJSON(w, r, &cmd) {
			return
		}
		if err := d.HandleDebuggerCommand(cmd); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID string `json:"session_id"`
			Path      string `json:"path"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := d.HandleExportTraffic(body.SessionID, body.Path); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/traffic/{gid}/copy", func(w http.ResponseWriter, r *http.Request) {
		gid, err := strconv.ParseUint(mux.Vars(r)["gid"], 10, 64)
		if err != nil {
			http.Error(w, "bad gid", http.StatusBadRequest)
			return
		}
		var body struct {
			Format    string `json:"format"`
			SessionID string `json:"session_id"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		out, err := d.HandleCopyTraffic(gid, export.Format(body.Format), body.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(out))
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/import/session", importHandler(d.ImportSession)).Methods(http.MethodPost)
	r.HandleFunc("/api/import/har", importHandler(d.ImportHAR)).Methods(http.MethodPost)
	r.HandleFunc("/api/import/charles", importHandler(d.ImportCharles)).Methods(http.MethodPost)

	r.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     SearchQuery `json:"query"`
			SessionID string      `json:"session_id"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		writeJSON(w, d.Search(body.Query, body.SessionID))
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/traffic/{gid}/resend", func(w http.ResponseWriter, r *http.Request) {
		gid, err := strconv.ParseUint(mux.Vars(r)["gid"], 10, 64)
		if err != nil {
			http.Error(w, "bad gid", http.StatusBadRequest)
			return
		}
		resendID, err := d.Resend(gid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"resend_id": resendID})
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/resend", func(w http.ResponseWriter, r *http.Request) {
		var mod TrafficModification
		if !decodeJSON(w, r, &mod) {
			return
		}
		if err := d.OnResend(mod); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w)
	}).Methods(http.MethodPost)

	return r
}

// importHandler adapts the three (sessionID, path string) error import
// commands onto the same request/response shape.
func importHandler(fn func(sessionID, path string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID string `json:"session_id"`
			Path      string `json:"path"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := fn(body.SessionID, body.Path); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, map[string]string{"status": "Success"})
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

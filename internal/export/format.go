// Package export implements the export/import half of the UI command
// surface (spec.md §6): rendering stored transactions to
// markdown/HAR/curl/JSON/text and parsing them back from a session
// JSON dump, a HAR file, or a Charles session converted via the
// external `charles` binary. Grounded on original_source's
// export_traffic/export_all_traffics format dispatch (state.rs) and
// models/charles.rs's convert-then-delegate shape; the teacher has no
// export surface of its own to generalize from.
package export

import (
	"path/filepath"
	"strings"
)

// Format names one of the export_traffic output formats.
type Format string

const (
	Markdown Format = "markdown"
	HAR      Format = "har"
	Curl     Format = "curl"
	JSON     Format = "json"
	Text     Format = "txt"
)

// InferFormat maps a destination path's extension to a Format, per
// spec.md §6 ("format inferred from extension: md→markdown, har→HAR,
// sh→curl, json→JSON, else txt").
func InferFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return Markdown
	case ".har":
		return HAR
	case ".sh":
		return Curl
	case ".json":
		return JSON
	default:
		return Text
	}
}

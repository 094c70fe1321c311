package export

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ezshark/ezshark-go/internal/model"
)

// Write renders txs to path in the format InferFormat(path) selects,
// mirroring export_all_traffics' format switch (state.rs) generalized
// from "serialize everything to a string, then send it" to "write it
// to a file" since there is no UI process on the other end of a pipe
// here.
func Write(txs []*model.Transaction, path string) error {
	data, err := Render(txs, InferFormat(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Render serializes txs in the requested format.
func Render(txs []*model.Transaction, format Format) ([]byte, error) {
	sorted := sortedByGID(txs)
	switch format {
	case Markdown:
		return renderMarkdown(sorted), nil
	case HAR:
		return renderHAR(sorted)
	case Curl:
		return renderCurl(sorted), nil
	case JSON:
		return renderJSON(sorted)
	default:
		return renderText(sorted), nil
	}
}

func sortedByGID(txs []*model.Transaction) []*model.Transaction {
	out := make([]*model.Transaction, len(txs))
	copy(out, txs)
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

func statusText(tx *model.Transaction) string {
	if tx.Status == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *tx.Status)
}

func loadBody(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return b
}

func renderMarkdown(txs []*model.Transaction) []byte {
	var sections []string
	for _, tx := range txs {
		var b strings.Builder
		fmt.Fprintf(&b, "## %s %s\n\n", tx.Method, tx.URI)
		fmt.Fprintf(&b, "Status: %s  \nState: %s\n\n", statusText(tx), tx.State)

		b.WriteString("### Request Headers\n\n")
		writeMarkdownHeaders(&b, tx.ReqHeaders)

		b.WriteString("\n### Response Headers\n\n")
		writeMarkdownHeaders(&b, tx.ResHeaders)

		if body := loadBody(tx.ReqBodyFile); len(body) > 0 {
			fmt.Fprintf(&b, "\n### Request Body\n\n```\n%s\n```\n", body)
		}
		if body := loadBody(tx.ResBodyFile); len(body) > 0 {
			fmt.Fprintf(&b, "\n### Response Body\n\n```\n%s\n```\n", body)
		}
		sections = append(sections, b.String())
	}
	return []byte(strings.Join(sections, "\n\n"))
}

func writeMarkdownHeaders(b *strings.Builder, h *model.Headers) {
	if h == nil || len(h.Items) == 0 {
		b.WriteString("_none_\n")
		return
	}
	for _, item := range h.Items {
		fmt.Fprintf(b, "- `%s: %s`\n", item.Name, item.Value)
	}
}

func renderCurl(txs []*model.Transaction) []byte {
	var commands []string
	for _, tx := range txs {
		var b strings.Builder
		fmt.Fprintf(&b, "curl -X %s '%s'", tx.Method, tx.URI)
		if tx.ReqHeaders != nil {
			for _, h := range tx.ReqHeaders.Items {
				fmt.Fprintf(&b, " \\\n  -H '%s: %s'", h.Name, escapeSingleQuote(h.Value))
			}
		}
		if body := loadBody(tx.ReqBodyFile); len(body) > 0 {
			fmt.Fprintf(&b, " \\\n  --data-raw '%s'", escapeSingleQuote(string(body)))
		}
		commands = append(commands, b.String())
	}
	return []byte(strings.Join(commands, "\n\n"))
}

func escapeSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func renderText(txs []*model.Transaction) []byte {
	var b bytes.Buffer
	for _, tx := range txs {
		fmt.Fprintf(&b, "%s %s -> %s (%s)\n", tx.Method, tx.URI, statusText(tx), tx.State)
	}
	return b.Bytes()
}

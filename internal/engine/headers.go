package engine

import (
	"net/http"

	"github.com/ezshark/ezshark-go/internal/model"
)

// fromHTTPHeader flattens an http.Header (multi-valued) into the
// ordered model.Headers every Transaction stores, one entry per value.
func fromHTTPHeader(h http.Header) *model.Headers {
	out := &model.Headers{}
	for name, values := range h {
		for _, v := range values {
			out.Items = append(out.Items, model.Header{Name: name, Value: v})
		}
	}
	return out
}

// toHTTPHeader expands model.Headers back into an http.Header.
func toHTTPHeader(h *model.Headers) http.Header {
	out := http.Header{}
	if h == nil {
		return out
	}
	for _, item := range h.Items {
		out.Add(item.Name, item.Value)
	}
	return out
}

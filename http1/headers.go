// SPDX-License-Identifier: ice License 1.0

package http1

import (
	"bytes"
	"strings"

	"github.com/gobwas/httphead"
)

// NewHeaders builds Headers from name/value pairs; a trailing odd name is ignored.
func NewHeaders(pairs ...string) *Headers {
	h := &Headers{fields: make([]field, 0, len(pairs)/2)} //nolint:mnd,gomnd // Pairs.
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}

	return h
}

func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, field{name: name, value: value})
}

// Set replaces every value of name with value, keeping the position of the first one.
func (h *Headers) Set(name, value string) {
	for ix := range h.fields {
		if strings.EqualFold(h.fields[ix].name, name) {
			h.fields[ix].value = value
			h.fields = append(h.fields[:ix+1], h.without(name, h.fields[ix+1:])...)

			return
		}
	}
	h.Add(name, value)
}

func (*Headers) without(name string, fields []field) []field {
	kept := make([]field, 0, len(fields))
	for _, f := range fields {
		if !strings.EqualFold(f.name, name) {
			kept = append(kept, f)
		}
	}

	return kept
}

func (h *Headers) Del(name string) {
	h.fields = h.without(name, h.fields)
}

func (h *Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}

	return ""
}

func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			values = append(values, f.value)
		}
	}

	return values
}

func (h *Headers) Contains(name string) bool {
	if h == nil {
		return false
	}
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}

	return false
}

// Names returns every distinct header name, lower-cased, in order of first appearance.
func (h *Headers) Names() []string {
	seen := make(map[string]struct{}, len(h.fields))
	names := make([]string, 0, len(h.fields))
	for _, f := range h.fields {
		lower := strings.ToLower(f.name)
		if _, found := seen[lower]; !found {
			seen[lower] = struct{}{}
			names = append(names, lower)
		}
	}

	return names
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}

	return len(h.fields)
}

func (h *Headers) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

func (h *Headers) Clone() *Headers {
	return &Headers{fields: append(make([]field, 0, len(h.fields)), h.fields...)}
}

// CanonicalValues splits every value of name on commas and returns the trimmed, non-empty parts in order.
func (h *Headers) CanonicalValues(name string) []string {
	var values []string
	for _, v := range h.Values(name) {
		values = append(values, splitList(v)...)
	}

	return values
}

// Tokens returns the lower-cased token set of a comma separated header like Connection.
func (h *Headers) Tokens(name string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, v := range h.Values(name) {
		if !httphead.ScanTokens([]byte(v), func(token []byte) bool {
			tokens[strings.ToLower(string(token))] = struct{}{}

			return true
		}) {
			for _, part := range splitList(v) {
				tokens[strings.ToLower(part)] = struct{}{}
			}
		}
	}

	return tokens
}

func (h *Headers) HasToken(name, token string) bool {
	_, found := h.Tokens(name)[strings.ToLower(token)]

	return found
}

func (h *Headers) writeTo(buf *bytes.Buffer) {
	for _, f := range h.fields {
		buf.WriteString(f.name)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.Write(crlf)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}

	return values
}

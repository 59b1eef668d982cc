package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Format is the wire format of an inbound API request.
type Format string

const (
	FormatJSON  Format = "json"
	FormatXML   Format = "xml"
	FormatEmail Format = "email"
)

// ParseFormat matches s case-insensitively against the supported formats.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, true
	case FormatXML:
		return FormatXML, true
	case FormatEmail:
		return FormatEmail, true
	}
	return "", false
}

// IsEmail reports whether f is the piped/raw email format.
func (f Format) IsEmail() bool {
	return strings.EqualFold(string(f), string(FormatEmail))
}

// Fields is the decoded request body. Values are whatever the parser
// produced: strings, bools, json.Number, nested maps and slices.
type Fields map[string]any

// Has reports whether key is present, even with a nil value.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// String returns the value under key rendered as a string, or "" when the
// key is absent or nil.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the value under key as an int, or 0 when it is not numeric.
func (f Fields) Int(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(f.String(key)))
	if err != nil {
		return 0
	}
	return n
}

// Bool returns the value under key as a bool. Absent or nil keys yield def.
func (f Fields) Bool(key string, def bool) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		n, err := t.Float64()
		return err == nil && n != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	switch strings.ToLower(strings.TrimSpace(f.String(key))) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Attachment is a file carried by a request. Data holds the bytes as they
// arrived; when Encoding is base64 it is still encoded.
type Attachment struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Data     []byte `json:"-"`
	Encoding string `json:"encoding,omitempty"`
	Size     int64  `json:"size"`
	CID      string `json:"cid,omitempty"`
}

// IngestedAttachment pairs an attachment with the outcome of ingesting it.
// At most one of ID and Error is set.
type IngestedAttachment struct {
	Attachment
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the attachment was stored.
func (a IngestedAttachment) OK() bool {
	return a.ID != "" && a.Error == ""
}

// StoredIDs returns the ids of the attachments that were stored, in order.
func StoredIDs(items []IngestedAttachment) []string {
	var ids []string
	for _, a := range items {
		if a.OK() {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Request is one decoded inbound call.
type Request struct {
	Format      Format
	Fields      Fields
	Attachments []IngestedAttachment
}

// AttachmentsFrom extracts the attachments list from decoded fields. Items
// that are not objects are skipped; structural validation reports them.
func AttachmentsFrom(f Fields) []Attachment {
	raw, ok := f["attachments"]
	if !ok || raw == nil {
		return nil
	}

	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, t[k])
		}
	}

	out := make([]Attachment, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		fm := Fields(m)
		a := Attachment{
			Name:     fm.String("name"),
			Type:     fm.String("type"),
			Encoding: fm.String("encoding"),
			CID:      fm.String("cid"),
		}
		switch d := m["data"].(type) {
		case []byte:
			a.Data = d
		default:
			a.Data = []byte(fm.String("data"))
		}
		if n, err := strconv.ParseInt(fm.String("size"), 10, 64); err == nil {
			a.Size = n
		} else {
			a.Size = int64(len(a.Data))
		}
		out = append(out, a)
	}
	return out
}

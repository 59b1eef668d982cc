package request

import (
	"strings"

	"github.com/clbanning/mxj/v2"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// mxj marks attributes with this prefix and element text with textKey.
const (
	attrPrefix = "-"
	textKey    = "#text"
)

// DecodeXML decodes a <ticket> document. Root attributes and child elements
// become fields; <attachments> holds <file> items whose attributes describe
// the file and whose text is the content.
func DecodeXML(raw []byte) (models.Fields, error) {
	doc, err := mxj.NewMapXml(raw)
	if err != nil {
		return nil, invalid("XML", err)
	}

	out := models.Fields{}
	for _, root := range doc {
		node, ok := root.(map[string]any)
		if !ok {
			// <ticket/> or a root holding only text.
			return out, nil
		}
		for k, v := range node {
			switch {
			case k == textKey:
			case strings.HasPrefix(k, attrPrefix):
				out[strings.TrimPrefix(k, attrPrefix)] = v
			case k == "attachments":
				out["attachments"] = xmlFiles(v)
			default:
				out[k] = xmlValue(v)
			}
		}
	}
	return out, nil
}

func xmlFiles(v any) []any {
	files := []any{}
	node, ok := v.(map[string]any)
	if !ok {
		return files
	}
	for k, items := range node {
		if k == textKey || strings.HasPrefix(k, attrPrefix) {
			continue
		}
		for _, f := range each(items) {
			item := map[string]any{}
			if m, ok := f.(map[string]any); ok {
				for ak, av := range m {
					if strings.HasPrefix(ak, attrPrefix) {
						item[strings.TrimPrefix(ak, attrPrefix)] = av
					}
				}
			}
			item["data"] = text(f)
			files = append(files, item)
		}
	}
	return files
}

// xmlValue reduces an element to its text when it has no child elements,
// and to a map of its children otherwise.
func xmlValue(v any) any {
	switch n := v.(type) {
	case []any:
		out := make([]any, 0, len(n))
		for _, item := range n {
			out = append(out, xmlValue(item))
		}
		return out
	case map[string]any:
		children := map[string]any{}
		for k, c := range n {
			if k != textKey && !strings.HasPrefix(k, attrPrefix) {
				children[k] = xmlValue(c)
			}
		}
		if len(children) == 0 {
			return text(n)
		}
		return children
	}
	return text(v)
}

func text(v any) string {
	switch n := v.(type) {
	case string:
		return strings.TrimSpace(n)
	case map[string]any:
		s, _ := n[textKey].(string)
		return strings.TrimSpace(s)
	}
	return ""
}

func each(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

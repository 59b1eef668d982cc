package request

import (
	"bytes"
	"mime"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// SourceEmail is the ticket source recorded for piped mail.
const SourceEmail = "Email"

// DecodeEmail parses a raw message into the fields of an email request:
// threading headers, sender, recipients, body, attachments and flags.
func DecodeEmail(raw []byte) (models.Fields, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, invalid("email", err)
	}

	out := models.Fields{
		"source":  SourceEmail,
		"header":  rawHeader(raw),
		"subject": strings.TrimSpace(env.GetHeader("Subject")),
	}
	if mid := env.GetHeader("Message-Id"); mid != "" {
		out["mid"] = strings.TrimSpace(mid)
	}
	if v := env.GetHeader("In-Reply-To"); v != "" {
		out["in-reply-to"] = strings.TrimSpace(v)
	}
	if v := env.GetHeader("References"); v != "" {
		out["references"] = strings.Join(strings.Fields(v), " ")
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		out["email"] = strings.ToLower(from[0].Address)
		out["name"] = from[0].Name
		if from[0].Name == "" {
			out["name"] = from[0].Address
		}
	}
	if rt, err := env.AddressList("Reply-To"); err == nil && len(rt) > 0 {
		out["reply-to"] = strings.ToLower(rt[0].Address)
		out["reply-to-name"] = rt[0].Name
	}
	if rcpts := recipients(env); len(rcpts) > 0 {
		out["recipients"] = rcpts
	}
	out["flags"] = flags(env)

	out["message"] = bodyText(env)
	if files := emailFiles(env); len(files) > 0 {
		out["attachments"] = files
	}
	return out, nil
}

// EmailHeaders extracts the threading headers from decoded email fields.
func EmailHeaders(f models.Fields) models.EmailHeaders {
	return models.EmailHeaders{
		MessageID:  f.String("mid"),
		InReplyTo:  f.String("in-reply-to"),
		References: strings.Fields(f.String("references")),
	}
}

func rawHeader(raw []byte) string {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := bytes.Index(raw, []byte(sep)); i >= 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func recipients(env *enmime.Envelope) []any {
	var out []any
	for _, src := range []string{"To", "Cc", "Delivered-To"} {
		list, err := env.AddressList(src)
		if err != nil {
			continue
		}
		for _, a := range list {
			out = append(out, map[string]any{
				"name":   a.Name,
				"email":  strings.ToLower(a.Address),
				"source": strings.ToLower(src),
			})
		}
	}
	return out
}

func flags(env *enmime.Envelope) map[string]any {
	autoSubmitted := strings.ToLower(strings.TrimSpace(env.GetHeader("Auto-Submitted")))
	precedence := strings.ToLower(env.GetHeader("Precedence"))
	virus := strings.ToLower(env.GetHeader("X-Virus-Status"))
	ct, params, _ := mime.ParseMediaType(env.GetHeader("Content-Type"))

	return map[string]any{
		"auto-reply": (autoSubmitted != "" && autoSubmitted != "no") ||
			env.GetHeader("X-Autoreply") != "" || env.GetHeader("X-Autorespond") != "" ||
			precedence == "auto_reply" || precedence == "bulk" || precedence == "junk",
		"bounce": ct == "multipart/report" && strings.EqualFold(params["report-type"], "delivery-status"),
		"spam":   strings.EqualFold(strings.TrimSpace(env.GetHeader("X-Spam-Flag")), "yes"),
		"viral":  virus != "" && !strings.HasPrefix(virus, "clean"),
	}
}

// bodyText prefers the plain text part. enmime renders HTML-only mail to
// text; the raw HTML is the last resort.
func bodyText(env *enmime.Envelope) string {
	if t := strings.TrimSpace(env.Text); t != "" {
		return t
	}
	return strings.TrimSpace(env.HTML)
}

// emailFiles lists attachments, inline parts and other non-body parts with
// their decoded content.
func emailFiles(env *enmime.Envelope) []any {
	var files []any
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, p := range group {
			name := p.FileName
			if name == "" {
				name = "attachment"
			}
			file := map[string]any{
				"name": name,
				"type": p.ContentType,
				"data": p.Content,
				"size": len(p.Content),
			}
			if cid := strings.Trim(p.ContentID, " <>"); cid != "" {
				file["cid"] = cid
			}
			files = append(files, file)
		}
	}
	return files
}

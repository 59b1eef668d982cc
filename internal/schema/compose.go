package schema

import (
	"context"
	"fmt"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// Registry exposes the configured forms. A false ok means the form (or the
// topic) does not exist, which is not an error.
type Registry interface {
	TopicFormFields(ctx context.Context, topicID int) (names []string, ok bool, err error)
	TicketFormFields(ctx context.Context) (names []string, ok bool, err error)
	UserFormFields(ctx context.Context) (names []string, ok bool, err error)
}

var attachmentKeys = []string{"name", "type", "data", "encoding", "size"}

// Base returns the keys every ticket request accepts.
func Base() Whitelist {
	w := Leaves("alert", "autorespond", "source", "topicId", "message", "ip", "priorityId")
	w["attachments"] = ListOf(Leaves(attachmentKeys...))
	return w
}

// Email returns the keys added for piped email requests, including the
// content id on attachment items.
func Email() Whitelist {
	w := Leaves("header", "mid", "emailId", "to-email-id", "ticketId",
		"reply-to", "reply-to-name", "in-reply-to", "references", "thread-type")
	w["flags"] = Leaves("bounce", "auto-reply", "spam", "viral")
	w["recipients"] = ListOf(Leaves("name", "email", "source"))
	w["attachments"] = ListOf(Leaves(append(attachmentKeys, "cid")...))
	return w
}

// TopicFields returns the dynamic field names of the form attached to the
// request's help topic, if any.
func TopicFields(ctx context.Context, reg Registry, fields models.Fields) ([]string, error) {
	if reg == nil || !fields.Has("topicId") {
		return nil, nil
	}
	topicID := fields.Int("topicId")
	if topicID == 0 {
		return nil, nil
	}
	names, ok, err := reg.TopicFormFields(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("topic %d form: %w", topicID, err)
	}
	if !ok {
		return nil, nil
	}
	return names, nil
}

// FormFields returns the global ticket-form and user-form field names.
func FormFields(ctx context.Context, reg Registry) ([]string, error) {
	if reg == nil {
		return nil, nil
	}
	var out []string

	names, ok, err := reg.TicketFormFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket form: %w", err)
	}
	if ok {
		out = append(out, names...)
	}

	names, ok, err = reg.UserFormFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("user form: %w", err)
	}
	if ok {
		out = append(out, names...)
	}
	return out, nil
}

// Compose builds the whitelist for one request.
func Compose(ctx context.Context, format models.Format, fields models.Fields, reg Registry) (Whitelist, error) {
	w := Base()

	topic, err := TopicFields(ctx, reg, fields)
	if err != nil {
		return nil, err
	}
	w.Add(topic...)

	forms, err := FormFields(ctx, reg)
	if err != nil {
		return nil, err
	}
	w.Add(forms...)

	if format.IsEmail() {
		w.Merge(Email())
	}
	return w, nil
}

package store

import (
	"net/mail"
	"strconv"
	"strings"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// Built-in ticket statuses, seeded by both stores.
const (
	StatusOpen     = 1
	StatusResolved = 2
	StatusClosed   = 3
)

// DefaultDept is the department name given to API tickets.
const DefaultDept = "Support"

const noSubject = "[No Subject]"

type status struct {
	id         int
	name       string
	state      string
	reopenable bool
}

var defaultStatuses = []status{
	{StatusOpen, "Open", models.StateOpen, false},
	{StatusResolved, "Resolved", models.StateClosed, true},
	{StatusClosed, "Closed", models.StateClosed, false},
}

// Default form fields used when nothing else is configured.
var (
	DefaultTicketForm = []string{"subject", "message", "priority"}
	DefaultUserForm   = []string{"email", "name", "phone", "notes"}
)

func ticketNumber(id int64) string {
	return strconv.FormatInt(100000+id, 10)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateNewTicket returns the field errors of a creation request. A
// banned sender yields errno 403.
func validateNewTicket(t models.NewTicket, banned bool) map[string]string {
	errs := map[string]string{}
	email := t.Fields.String("email")

	if banned {
		errs["errno"] = "403"
		errs["err"] = "Email is in banlist"
		return errs
	}
	if _, err := mail.ParseAddress(email); email == "" || err != nil {
		errs["email"] = "Valid email address required"
	}
	if strings.TrimSpace(t.Fields.String("message")) == "" {
		errs["message"] = "Message content is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func subjectOf(f models.Fields) string {
	if s := strings.TrimSpace(f.String("subject")); s != "" {
		return s
	}
	return noSubject
}

func nameOf(f models.Fields) string {
	if n := strings.TrimSpace(f.String("name")); n != "" {
		return n
	}
	return normalizeEmail(f.String("email"))
}

func posterOf(e models.InboundEmail) string {
	if n := strings.TrimSpace(e.Fields.String("name")); n != "" {
		return n
	}
	return normalizeEmail(e.Fields.String("email"))
}

func entryTypeOf(e models.InboundEmail) string {
	if e.StaffID != 0 {
		return models.EntryResponse
	}
	return models.EntryMessage
}

// referencedIDs lists the message ids an email refers to, nearest first.
func referencedIDs(h models.EmailHeaders) []string {
	var ids []string
	if h.InReplyTo != "" {
		ids = append(ids, h.InReplyTo)
	}
	for i := len(h.References) - 1; i >= 0; i-- {
		ids = append(ids, h.References[i])
	}
	return ids
}

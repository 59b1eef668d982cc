package tickets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// DefaultSource is recorded when a request does not name its source.
const DefaultSource = "API"

// ErrNoTicket is the cause of a creation that reported neither a ticket
// nor an error.
var ErrNoTicket = errors.New("creation returned no ticket")

// Created is the JSON body of a successful creation.
type Created struct {
	User   int64  `json:"user"`
	Number string `json:"number"`
}

// Create runs a creation request: email requests go through the thread
// merge decision, everything else creates a ticket directly.
func (s *Service) Create(ctx context.Context, caller auth.Caller, req models.Request) (*models.Ticket, error) {
	var (
		t   *models.Ticket
		err error
	)
	if req.Format.IsEmail() {
		t, err = s.ProcessEmail(ctx, caller, req)
	} else {
		t, err = s.CreateTicket(ctx, req, 0)
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apierr.Wrap(ErrNoTicket, "Unable to create new ticket: unknown error")
	}
	return t, nil
}

// ProcessEmail appends an inbound email to the thread it replies to, or
// opens a new ticket when there is no such thread, policy forbids the
// merge, or the append fails.
func (s *Service) ProcessEmail(ctx context.Context, caller auth.Caller, req models.Request) (*models.Ticket, error) {
	d := s.Decide(ctx, caller, req)
	if !d.CreateNew() {
		return d.Ticket, nil
	}
	return s.CreateTicket(ctx, req, d.StaffID)
}

// CreateTicket calls the creation primitive and classifies its outcome.
func (s *Service) CreateTicket(ctx context.Context, req models.Request, staffID int64) (*models.Ticket, error) {
	f := req.Fields
	source := DefaultSource
	if f["source"] != nil {
		source = f.String("source")
	}

	t, errs, err := s.backend.CreateTicket(ctx, models.NewTicket{
		Fields:      f,
		Source:      source,
		Alert:       f.Bool("alert", true),
		Autorespond: f.Bool("autorespond", true),
		StaffID:     staffID,
		Attachments: req.Attachments,
	})
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to create new ticket: unknown error")
	}

	if len(errs) > 0 {
		if strings.TrimSpace(errs["errno"]) == "403" {
			return nil, apierr.Denied("Ticket denied")
		}
		return nil, apierr.Invalid("Unable to create new ticket: validation errors:\n%s", JoinErrors(errs))
	}
	if t == nil {
		return nil, apierr.Wrap(ErrNoTicket, "Unable to create new ticket: unknown error")
	}

	s.log.Info().Str("ticket", t.Number).Str("source", source).Msg("ticket created")
	return t, nil
}

// JoinErrors renders field errors one "key: message" per line, sorted by
// key.
func JoinErrors(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, errs[k]))
	}
	return strings.Join(lines, "\n")
}

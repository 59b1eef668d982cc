// Package tickets implements the ticket operations behind the API and the
// mail pipe: creation, email threading, status changes, client messages and
// the staff read operations.
//
// Operations take an explicit auth.Caller and return values or coded
// errors (internal/apierr); rendering is left to internal/response.
package tickets

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/attachments"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
	"github.com/PratikDhanave/ticket-gateway/internal/schema"
)

// Tickets is the ticket store. Lookups return nil, nil on a miss.
type Tickets interface {
	// CreateTicket returns the new ticket, or field errors keyed by field
	// name. The "errno" key carries a numeric rejection code.
	CreateTicket(ctx context.Context, t models.NewTicket) (*models.Ticket, map[string]string, error)
	TicketByNumber(ctx context.Context, number string) (*models.Ticket, error)
	SetStatus(ctx context.Context, ticketID int64, statusID int, comment string) (bool, error)
	SetAnsweredState(ctx context.Context, ticketID int64, answered bool) error
}

// Threads stores ticket conversations.
type Threads interface {
	ThreadByEmailHeaders(ctx context.Context, h models.EmailHeaders) (*models.ThreadMatch, error)
	// PostEmail appends an email to the matched thread. False means the
	// entry was not written.
	PostEmail(ctx context.Context, match *models.ThreadMatch, email models.InboundEmail) (bool, error)
	PostMessage(ctx context.Context, ticketID int64, m models.NewMessage) (*models.ThreadEntry, error)
	ThreadEntry(ctx context.Context, id int64) (*models.ThreadEntry, error)
	ClientThread(ctx context.Context, ticketID int64) ([]models.ThreadEntry, error)
}

// Directory resolves users and staff by email.
type Directory interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	TicketsByUser(ctx context.Context, userID int64) ([]models.Ticket, error)
	StaffByEmail(ctx context.Context, email string) (*models.Staff, error)
}

// Searcher runs ticket searches.
type Searcher interface {
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error)
}

// Backend is everything the service consumes from storage.
type Backend interface {
	Tickets
	Threads
	Directory
	Searcher
}

// Observer receives merge decisions.
type Observer interface {
	ObserveMerge(outcome string)
}

// Options tune the service.
type Options struct {
	// Strict rejects unknown fields on API requests. Piped email is never
	// strict.
	Strict bool
	// ResolvedStatusID is the status set when a client closes a ticket
	// through PostMessage.
	ResolvedStatusID int
	// AttachmentURLBase prefixes attachment ids in read responses.
	AttachmentURLBase string
}

// Service runs ticket operations against a Backend.
type Service struct {
	backend  Backend
	registry schema.Registry
	ingestor *attachments.Ingestor
	opts     Options
	log      zerolog.Logger
	observer Observer
}

// NewService wires a Service. observer may be nil.
func NewService(backend Backend, registry schema.Registry, ingestor *attachments.Ingestor, opts Options, log zerolog.Logger, observer Observer) *Service {
	if opts.ResolvedStatusID == 0 {
		opts.ResolvedStatusID = 2
	}
	return &Service{
		backend:  backend,
		registry: registry,
		ingestor: ingestor,
		opts:     opts,
		log:      log,
		observer: observer,
	}
}

// Prepare validates decoded fields against the request whitelist and
// ingests the attachments they carry. Email requests are validated
// leniently: unknown fields are logged, not rejected.
func (s *Service) Prepare(ctx context.Context, format models.Format, fields models.Fields) (models.Request, error) {
	req := models.Request{Format: format, Fields: fields}

	wl, err := schema.Compose(ctx, format, fields, s.registry)
	if err != nil {
		return req, apierr.Wrap(err, "Unable to load request structure")
	}

	if err := schema.Validate(fields, wl); err != nil {
		var unexpected *schema.UnexpectedFieldError
		if !errors.As(err, &unexpected) {
			return req, apierr.Wrap(err, "Unexpected or invalid data received")
		}
		if s.opts.Strict && !format.IsEmail() {
			s.log.Info().Str("field", unexpected.Path).Str("format", string(format)).Msg("request rejected: unexpected field")
			return req, apierr.Invalid("Unexpected or invalid data received")
		}
		s.log.Warn().Str("field", unexpected.Path).Str("format", string(format)).Msg("unexpected request field")
	}

	req.Attachments = s.ingest(ctx, models.AttachmentsFrom(fields))
	return req, nil
}

func (s *Service) ingest(ctx context.Context, files []models.Attachment) []models.IngestedAttachment {
	if s.ingestor == nil {
		return []models.IngestedAttachment{}
	}
	return s.ingestor.Ingest(ctx, files)
}

// resolve looks a ticket up by number and only trusts it when the caller
// supplied the owner's email.
func (s *Service) resolve(ctx context.Context, number, email string) (*models.Ticket, error) {
	t, err := s.backend.TicketByNumber(ctx, number)
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to find the ticket")
	}
	if t == nil || t.Number != number || email == "" || !strings.EqualFold(t.Email, email) {
		return nil, apierr.NotFound("Unable to find the ticket")
	}
	return t, nil
}

func (s *Service) observe(outcome MergeOutcome) {
	if s.observer != nil {
		s.observer.ObserveMerge(outcome.String())
	}
}


package tickets

import (
	"context"

	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
	"github.com/PratikDhanave/ticket-gateway/internal/request"
)

// MergeOutcome tags what happened to an inbound email's thread lookup.
type MergeOutcome int

const (
	// NoMatch: no stored thread matches the email's headers.
	NoMatch MergeOutcome = iota
	// NotMergeable: the matched ticket is closed, not reopenable, and the
	// sender is not staff.
	NotMergeable
	// Merged: the email was appended to the matched thread.
	Merged
	// MergeFailed: the thread accepted the match but the append failed.
	MergeFailed
	// AlreadyPosted: the email's own Message-ID is already in the thread,
	// as happens when the mail transport redelivers it.
	AlreadyPosted
)

func (o MergeOutcome) String() string {
	switch o {
	case NoMatch:
		return "no_match"
	case NotMergeable:
		return "not_mergeable"
	case Merged:
		return "merged"
	case MergeFailed:
		return "merge_failed"
	case AlreadyPosted:
		return "already_posted"
	}
	return "unknown"
}

// Decision is the result of Decide. Ticket is the matched ticket for every
// outcome except NoMatch.
type Decision struct {
	Outcome MergeOutcome
	Ticket  *models.Ticket
	StaffID int64
}

// CreateNew reports whether the email must open a new ticket.
func (d Decision) CreateNew() bool {
	return d.Outcome != Merged && d.Outcome != AlreadyPosted
}

// Decide looks up the thread an email replies to and appends the email to
// it when policy allows. Lookup and append failures are absorbed: they
// yield NoMatch or MergeFailed and never an error.
func (s *Service) Decide(ctx context.Context, caller auth.Caller, req models.Request) Decision {
	staffID := s.staffID(ctx, caller, req.Fields)

	headers := request.EmailHeaders(req.Fields)
	if headers.Empty() {
		return s.decided(Decision{Outcome: NoMatch, StaffID: staffID})
	}

	match, err := s.backend.ThreadByEmailHeaders(ctx, headers)
	if err != nil {
		s.log.Warn().Err(err).Str("mid", headers.MessageID).Msg("thread lookup failed")
		return s.decided(Decision{Outcome: NoMatch, StaffID: staffID})
	}
	if match == nil || match.Ticket == nil {
		return s.decided(Decision{Outcome: NoMatch, StaffID: staffID})
	}

	t := match.Ticket
	d := Decision{Ticket: t, StaffID: staffID}
	if match.Posted {
		d.Outcome = AlreadyPosted
		return s.decided(d)
	}
	if !Mergeable(t, staffID) {
		d.Outcome = NotMergeable
		return s.decided(d)
	}

	ok, err := s.backend.PostEmail(ctx, match, models.InboundEmail{
		Fields:      req.Fields,
		Headers:     headers,
		StaffID:     staffID,
		Attachments: req.Attachments,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("ticket", t.Number).Msg("appending email to thread failed")
	}
	if err != nil || !ok {
		d.Outcome = MergeFailed
		return s.decided(d)
	}
	d.Outcome = Merged
	return s.decided(d)
}

// Mergeable reports whether a reply may be appended to t: staff may always
// reply, anyone may reply to an open or reopenable ticket.
func Mergeable(t *models.Ticket, staffID int64) bool {
	return staffID != 0 || !t.IsClosed() || t.Reopenable
}

func (s *Service) decided(d Decision) Decision {
	ev := s.log.Debug().Str("outcome", d.Outcome.String())
	if d.Ticket != nil {
		ev = ev.Str("ticket", d.Ticket.Number)
	}
	ev.Msg("email thread decision")
	s.observe(d.Outcome)
	return d
}

// staffID returns the staff identity of an email: the authenticated caller,
// an explicit staffId field, or a staff member owning the sender address.
func (s *Service) staffID(ctx context.Context, caller auth.Caller, f models.Fields) int64 {
	if caller.Staff != nil && caller.Staff.ID != 0 {
		return caller.Staff.ID
	}
	if id := f.Int("staffId"); id != 0 {
		return int64(id)
	}
	email := f.String("email")
	if email == "" {
		return 0
	}
	staff, err := s.backend.StaffByEmail(ctx, email)
	if err != nil {
		s.log.Warn().Err(err).Msg("staff lookup by email failed")
		return 0
	}
	if staff == nil {
		return 0
	}
	return staff.ID
}

package tickets

import (
	"context"
	"strings"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// closeComment is the audit note of a close requested through PostMessage.
const closeComment = "by postMessage"

// ChangeStatus moves a ticket to sc.StatusID. A missing comment is
// answered with 500, not 400; API clients depend on that code.
func (s *Service) ChangeStatus(ctx context.Context, caller auth.Caller, sc models.StatusChange) (models.StatusResult, error) {
	t, err := s.resolve(ctx, sc.Number, sc.Email)
	if err != nil {
		return models.StatusResult{}, err
	}

	if strings.TrimSpace(sc.Comment) == "" {
		return models.StatusResult{}, apierr.Internal("Unable to change ticket status: comments missing")
	}

	ok, err := s.backend.SetStatus(ctx, t.ID, sc.StatusID, sc.Comment)
	if err != nil || !ok {
		return models.StatusResult{}, apierr.Wrap(err, "Failed to change ticket status")
	}

	applied := sc.StatusID
	if after, err := s.backend.TicketByNumber(ctx, t.Number); err != nil {
		s.log.Warn().Err(err).Str("ticket", t.Number).Msg("reloading ticket after status change failed")
	} else if after != nil {
		applied = after.StatusID
	}

	s.log.Info().Str("ticket", t.Number).Int("status", applied).Int64("staff", staffOf(caller)).Msg("ticket status changed")
	return models.StatusResult{TicketID: t.ID, StatusID: applied}, nil
}

// PostMessage adds a client message to a ticket and returns the new entry
// id. With Close set to "true" the ticket is then resolved and marked
// answered; those two writes are best-effort and independent.
func (s *Service) PostMessage(ctx context.Context, caller auth.Caller, mp models.MessagePost) (int64, error) {
	if mp.Email == "" || mp.Number == "" || mp.Message == "" {
		return 0, apierr.Invalid("Parameter invalid")
	}

	t, err := s.resolve(ctx, mp.Number, mp.Email)
	if err != nil {
		return 0, err
	}

	entry, err := s.backend.PostMessage(ctx, t.ID, models.NewMessage{
		Poster:      mp.Email,
		Body:        mp.Message,
		IP:          mp.IP,
		Attachments: s.ingest(ctx, mp.Attachments),
	})
	if err != nil || entry == nil {
		return 0, apierr.Wrap(err, "Failed to add the message")
	}

	if mp.Close == "true" {
		s.closeAfterPost(ctx, t, staffOf(caller))
	}
	return entry.ID, nil
}

func (s *Service) closeAfterPost(ctx context.Context, t *models.Ticket, staffID int64) {
	ok, err := s.backend.SetStatus(ctx, t.ID, s.opts.ResolvedStatusID, closeComment)
	if err != nil || !ok {
		s.log.Warn().Err(err).Str("ticket", t.Number).Msg("resolving ticket after message failed")
	}
	if err := s.backend.SetAnsweredState(ctx, t.ID, true); err != nil {
		s.log.Warn().Err(err).Str("ticket", t.Number).Msg("marking ticket answered failed")
	}
	s.log.Info().Str("ticket", t.Number).Int64("staff", staffID).Msg("ticket closed by client message")
}

func staffOf(c auth.Caller) int64 {
	if c.Staff == nil {
		return 0
	}
	return c.Staff.ID
}

package tickets

import (
	"context"
	"strings"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// EntryNotFound is returned, with a success code, for unknown thread
// entries.
type EntryNotFound struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// SearchResults is the body of a search.
type SearchResults struct {
	Results []models.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// GetTicket returns a ticket with its display fields.
func (s *Service) GetTicket(ctx context.Context, _ auth.Caller, number, email string) (*models.Ticket, error) {
	t, err := s.resolve(ctx, number, email)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetThreadEntry returns one thread entry with attachment URLs, or an
// EntryNotFound payload.
func (s *Service) GetThreadEntry(ctx context.Context, _ auth.Caller, id int64) (any, error) {
	e, err := s.backend.ThreadEntry(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to load thread entry")
	}
	if e == nil || e.ID != id {
		return EntryNotFound{ID: id, Error: "ThreadEntryNotFound"}, nil
	}
	e.Attachments = s.attachmentURLs(e.Attachments)
	return e, nil
}

// GetClientThread returns the entries of a ticket visible to its owner.
func (s *Service) GetClientThread(ctx context.Context, _ auth.Caller, number, email string) ([]models.ThreadEntry, error) {
	t, err := s.resolve(ctx, number, email)
	if err != nil {
		return nil, err
	}
	entries, err := s.backend.ClientThread(ctx, t.ID)
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to load the thread")
	}
	if entries == nil {
		entries = []models.ThreadEntry{}
	}
	for i := range entries {
		entries[i].Attachments = s.attachmentURLs(entries[i].Attachments)
	}
	return entries, nil
}

// GetTickets returns every ticket owned by the user with email.
func (s *Service) GetTickets(ctx context.Context, _ auth.Caller, email string) ([]models.Ticket, error) {
	u, err := s.backend.UserByEmail(ctx, email)
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to find the user")
	}
	if u == nil {
		return nil, apierr.NotFound("Unable to find the user")
	}
	list, err := s.backend.TicketsByUser(ctx, u.ID)
	if err != nil {
		return nil, apierr.Wrap(err, "Unable to list tickets")
	}
	if list == nil {
		list = []models.Ticket{}
	}
	return list, nil
}

// Search runs a ticket search.
func (s *Service) Search(ctx context.Context, _ auth.Caller, q models.SearchQuery) (SearchResults, error) {
	res, err := s.backend.Search(ctx, q)
	if err != nil {
		return SearchResults{}, apierr.Wrap(err, "Search failed")
	}
	if res == nil {
		res = []models.SearchResult{}
	}
	return SearchResults{Results: res, Count: len(res)}, nil
}

func (s *Service) attachmentURLs(ids []string) []string {
	out := make([]string, 0, len(ids))
	base := strings.TrimRight(s.opts.AttachmentURLBase, "/")
	for _, id := range ids {
		if base == "" {
			out = append(out, id)
			continue
		}
		out = append(out, base+"/"+id)
	}
	return out
}

package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
	"github.com/PratikDhanave/ticket-gateway/internal/request"
	"github.com/PratikDhanave/ticket-gateway/internal/response"
	"github.com/PratikDhanave/ticket-gateway/internal/tickets"
)

// ResultObserver counts operation outcomes.
type ResultObserver interface {
	ObserveResult(op string, code int)
}

// Tickets serves the ticket API.
type Tickets struct {
	Service  *tickets.Service
	Gate     *auth.Gate
	Log      zerolog.Logger
	Observer ResultObserver
}

// staffOp is a read-capability operation. It runs after the caller's staff
// credentials were exchanged.
type staffOp func(ctx context.Context, caller auth.Caller, f models.Fields) (any, error)

// RegisterTicketRoutes registers the ticket endpoints.
//
// POST /api/tickets.{json,xml,email}
// - Requires an X-API-Key that may create tickets
// - Email bodies are raw RFC 5322 messages and go through thread merging
//
// POST /api/tickets/<op>.{json,xml}
// - Requires an X-API-Key that may read tickets plus staff user/passwd
// - Every success answers 201
func RegisterTicketRoutes(r gin.IRoutes, h *Tickets) {
	for _, f := range []models.Format{models.FormatJSON, models.FormatXML, models.FormatEmail} {
		r.POST("/api/tickets."+string(f), h.keyed(f, auth.CapCreateTickets), h.create(f))
	}

	ops := map[string]staffOp{
		"search":       h.search,
		"get":          h.getTicket,
		"thread-entry": h.threadEntry,
		"thread":       h.clientThread,
		"list":         h.listTickets,
		"status":       h.changeStatus,
		"message":      h.postMessage,
	}
	for name, op := range ops {
		for _, f := range []models.Format{models.FormatJSON, models.FormatXML} {
			r.POST("/api/tickets/"+name+"."+string(f), h.keyed(f, auth.CapReadTickets), h.staff(name, f, op))
		}
	}
}

// keyed rejects callers without capability, answering in format f.
func (h *Tickets) keyed(f models.Format, capability auth.Capability) gin.HandlerFunc {
	return auth.KeyMiddleware(h.Gate, capability, func(c *gin.Context, err error) {
		h.fail("auth", response.HTTP{C: c, Format: f}, err)
	})
}

func (h *Tickets) create(f models.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := response.HTTP{C: c, Format: f}
		ctx := c.Request.Context()
		caller := auth.Caller{Key: auth.Key(c)}

		fields, err := request.Decode(f, c.Request.Body)
		if err != nil {
			h.fail("create", out, err)
			return
		}
		req, err := h.Service.Prepare(ctx, f, fields)
		if err != nil {
			h.fail("create", out, err)
			return
		}

		t, err := h.Service.Create(ctx, caller, req)
		if err != nil {
			h.fail("create", out, err)
			return
		}

		var payload any = t.Number
		if f == models.FormatJSON {
			payload = tickets.Created{User: t.UserID, Number: t.Number}
		}
		h.render("create", out, response.Created(payload))
	}
}

func (h *Tickets) staff(name string, f models.Format, op staffOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := response.HTTP{C: c, Format: f}
		ctx := c.Request.Context()

		fields, err := request.Decode(f, c.Request.Body)
		if err != nil {
			h.fail(name, out, err)
			return
		}

		staff, err := h.Gate.RequireStaff(ctx, fields.String("user"), fields.String("passwd"))
		if err != nil {
			h.fail(name, out, err)
			return
		}

		payload, err := op(ctx, auth.Caller{Key: auth.Key(c), Staff: staff}, fields)
		if err != nil {
			h.fail(name, out, err)
			return
		}
		h.render(name, out, response.Created(payload))
	}
}

func (h *Tickets) search(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	q := models.SearchQuery{
		Text:   f.String("query"),
		Email:  f.String("email"),
		State:  f.String("state"),
		Status: f.Int("status"),
		Limit:  f.Int("limit"),
	}
	if criteria, ok := f["criteria"].(map[string]any); ok {
		c := models.Fields(criteria)
		if q.Text == "" {
			q.Text = c.String("query")
		}
		if q.Email == "" {
			q.Email = c.String("email")
		}
		if q.State == "" {
			q.State = c.String("state")
		}
		if q.Status == 0 {
			q.Status = c.Int("status")
		}
	}
	return h.Service.Search(ctx, caller, q)
}

func (h *Tickets) getTicket(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	return h.Service.GetTicket(ctx, caller, f.String("number"), f.String("email"))
}

func (h *Tickets) threadEntry(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	id, err := strconv.ParseInt(f.String("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, apierr.Invalid("Parameter invalid")
	}
	return h.Service.GetThreadEntry(ctx, caller, id)
}

func (h *Tickets) clientThread(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	return h.Service.GetClientThread(ctx, caller, f.String("number"), f.String("email"))
}

func (h *Tickets) listTickets(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	return h.Service.GetTickets(ctx, caller, f.String("email"))
}

func (h *Tickets) changeStatus(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	comment := f.String("comments")
	if comment == "" {
		comment = f.String("comment")
	}
	return h.Service.ChangeStatus(ctx, caller, models.StatusChange{
		Number:   f.String("number"),
		Email:    f.String("email"),
		StatusID: f.Int("status_id"),
		Comment:  comment,
	})
}

func (h *Tickets) postMessage(ctx context.Context, caller auth.Caller, f models.Fields) (any, error) {
	id, err := h.Service.PostMessage(ctx, caller, models.MessagePost{
		Number:      f.String("number"),
		Email:       f.String("email"),
		Message:     f.String("message"),
		IP:          f.String("ip"),
		Close:       f.String("close"),
		Attachments: models.AttachmentsFrom(f),
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"id": id}, nil
}

func (h *Tickets) render(op string, out response.Renderer, r response.Result) {
	if h.Observer != nil {
		h.Observer.ObserveResult(op, r.Code)
	}
	out.Render(r)
}

func (h *Tickets) fail(op string, out response.Renderer, err error) {
	r := response.FromError(err)
	ev := h.Log.Info()
	if r.Code >= 500 {
		ev = h.Log.Error().Err(apierr.From(err).Unwrap())
	}
	ev.Str("op", op).Int("code", r.Code).Msg(apierr.From(err).Message)
	h.render(op, out, r)
}

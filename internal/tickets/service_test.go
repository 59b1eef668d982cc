package tickets

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/attachments"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
	"github.com/PratikDhanave/ticket-gateway/internal/store"
)

type outcomes []string

func (o *outcomes) ObserveMerge(outcome string) { *o = append(*o, outcome) }

type fixture struct {
	mem      *store.MemoryStore
	svc      *Service
	outcomes *outcomes
}

func newFixture(t *testing.T, backend Backend) fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	if backend == nil {
		backend = mem
	}
	o := &outcomes{}
	ingestor := &attachments.Ingestor{
		Field: attachments.NewMessageField(attachments.FieldConfig{Enabled: true}, mem),
		Log:   zerolog.Nop(),
	}
	svc := NewService(backend, mem, ingestor, Options{Strict: true}, zerolog.Nop(), o)
	return fixture{mem: mem, svc: svc, outcomes: o}
}

func jsonFields() models.Fields {
	return models.Fields{
		"email":   "jane@example.com",
		"name":    "Jane Doe",
		"subject": "Printer on fire",
		"message": "It is still burning",
	}
}

func emailFields(mid string) models.Fields {
	f := jsonFields()
	f["mid"] = mid
	return f
}

func (fx fixture) create(t *testing.T, format models.Format, f models.Fields) *models.Ticket {
	t.Helper()
	ctx := context.Background()
	req, err := fx.svc.Prepare(ctx, format, f)
	require.NoError(t, err)
	tk, err := fx.svc.Create(ctx, auth.Caller{}, req)
	require.NoError(t, err)
	require.NotNil(t, tk)
	return tk
}

func reply(parentMID, mid, from string) models.Fields {
	return models.Fields{
		"email":       from,
		"name":        "Replier",
		"subject":     "Re: Printer on fire",
		"message":     "any news?",
		"mid":         mid,
		"in-reply-to": parentMID,
	}
}

func TestCreateTicket(t *testing.T) {
	fx := newFixture(t, nil)

	tk := fx.create(t, models.FormatJSON, jsonFields())

	assert.Equal(t, "100001", tk.Number)
	assert.Equal(t, DefaultSource, tk.Source)
	assert.Equal(t, "Printer on fire", tk.Subject)
	assert.NotZero(t, tk.UserID)
	assert.Equal(t, 1, fx.mem.TicketCount())
}

func TestPrepareStrictRejectsUnknownField(t *testing.T) {
	fx := newFixture(t, nil)
	f := jsonFields()
	f["favourite_colour"] = "teal"

	_, err := fx.svc.Prepare(context.Background(), models.FormatJSON, f)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apierr.Code(err))
	assert.Equal(t, "Unexpected or invalid data received", err.Error())
}

func TestPrepareEmailToleratesUnknownField(t *testing.T) {
	fx := newFixture(t, nil)
	f := emailFields("<m1@example.com>")
	f["x-mailer"] = "mutt"

	req, err := fx.svc.Prepare(context.Background(), models.FormatEmail, f)

	require.NoError(t, err)
	assert.Equal(t, models.FormatEmail, req.Format)
}

func TestPrepareIngestsAttachments(t *testing.T) {
	fx := newFixture(t, nil)
	f := jsonFields()
	f["attachments"] = []any{
		map[string]any{"name": "a.txt", "type": "text/plain", "encoding": "base64", "data": "aGVsbG8="},
		map[string]any{"name": "b.txt", "type": "text/plain", "encoding": "base64", "data": "!!!"},
	}

	req, err := fx.svc.Prepare(context.Background(), models.FormatJSON, f)
	require.NoError(t, err)
	require.Len(t, req.Attachments, 2)

	assert.True(t, req.Attachments[0].OK())
	stored, ok := fx.mem.Attachment(req.Attachments[0].ID)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), stored.Data)

	assert.False(t, req.Attachments[1].OK())
	assert.Equal(t, "b.txt: Poorly encoded base64 data", req.Attachments[1].Error)
}

func TestCreateClassifiesBackendOutcomes(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.mem.Ban("jane@example.com")
	req, err := fx.svc.Prepare(ctx, models.FormatJSON, jsonFields())
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, auth.Caller{}, req)
	assert.Equal(t, http.StatusForbidden, apierr.Code(err))
	assert.Equal(t, "Ticket denied", err.Error())

	f := jsonFields()
	f["email"] = "not-an-address"
	f["message"] = ""
	req, err = fx.svc.Prepare(ctx, models.FormatJSON, f)
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, auth.Caller{}, req)
	assert.Equal(t, http.StatusBadRequest, apierr.Code(err))
	assert.Equal(t, "Unable to create new ticket: validation errors:\n"+
		"email: Valid email address required\n"+
		"message: Message content is required", err.Error())
}

type nilCreate struct{ *store.MemoryStore }

func (nilCreate) CreateTicket(context.Context, models.NewTicket) (*models.Ticket, map[string]string, error) {
	return nil, nil, nil
}

func TestCreateNilTicketIsInternal(t *testing.T) {
	fx := newFixture(t, nilCreate{store.NewMemoryStore()})
	req, err := fx.svc.Prepare(context.Background(), models.FormatJSON, jsonFields())
	require.NoError(t, err)

	_, err = fx.svc.Create(context.Background(), auth.Caller{}, req)

	assert.Equal(t, http.StatusInternalServerError, apierr.Code(err))
	assert.Equal(t, "Unable to create new ticket: unknown error", err.Error())
}

func TestEmailReplyMergesIntoOpenTicket(t *testing.T) {
	fx := newFixture(t, nil)
	orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))

	got := fx.create(t, models.FormatEmail, reply("<m1@example.com>", "<m2@example.com>", "jane@example.com"))

	assert.Equal(t, orig.Number, got.Number)
	assert.Equal(t, 1, fx.mem.TicketCount())
	assert.Equal(t, []string{"no_match", "merged"}, []string(*fx.outcomes))

	thread, err := fx.mem.ClientThread(context.Background(), orig.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "any news?", thread[1].Body)
}

func TestEmailReplyToClosedTicket(t *testing.T) {
	ctx := context.Background()

	t.Run("not reopenable opens a new ticket", func(t *testing.T) {
		fx := newFixture(t, nil)
		orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))
		_, err := fx.mem.SetStatus(ctx, orig.ID, store.StatusClosed, "")
		require.NoError(t, err)

		got := fx.create(t, models.FormatEmail, reply("<m1@example.com>", "<m2@example.com>", "jane@example.com"))

		assert.NotEqual(t, orig.Number, got.Number)
		assert.Equal(t, 2, fx.mem.TicketCount())
		assert.Equal(t, "not_mergeable", (*fx.outcomes)[1])
	})

	t.Run("reopenable is reopened", func(t *testing.T) {
		fx := newFixture(t, nil)
		orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))
		_, err := fx.mem.SetStatus(ctx, orig.ID, store.StatusResolved, "")
		require.NoError(t, err)

		got := fx.create(t, models.FormatEmail, reply("<m1@example.com>", "<m2@example.com>", "jane@example.com"))

		assert.Equal(t, orig.Number, got.Number)
		assert.Equal(t, 1, fx.mem.TicketCount())
		after, err := fx.mem.TicketByNumber(ctx, orig.Number)
		require.NoError(t, err)
		assert.Equal(t, models.StateOpen, after.State)
	})

	t.Run("staff may always reply", func(t *testing.T) {
		fx := newFixture(t, nil)
		_, err := fx.mem.AddStaff("agent", "agent@helpdesk.test", "pw")
		require.NoError(t, err)
		orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))
		_, err = fx.mem.SetStatus(ctx, orig.ID, store.StatusClosed, "")
		require.NoError(t, err)

		got := fx.create(t, models.FormatEmail, reply("<m1@example.com>", "<m2@example.com>", "agent@helpdesk.test"))

		assert.Equal(t, orig.Number, got.Number)
		assert.Equal(t, 1, fx.mem.TicketCount())
		thread, err := fx.mem.ClientThread(ctx, orig.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryResponse, thread[len(thread)-1].Type)
	})
}

type flakyThreads struct {
	*store.MemoryStore
	lookupErr, postErr error
	refuse             bool
}

func (f flakyThreads) ThreadByEmailHeaders(ctx context.Context, h models.EmailHeaders) (*models.ThreadMatch, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.MemoryStore.ThreadByEmailHeaders(ctx, h)
}

func (f flakyThreads) PostEmail(ctx context.Context, m *models.ThreadMatch, e models.InboundEmail) (bool, error) {
	if f.postErr != nil {
		return false, f.postErr
	}
	if f.refuse {
		return false, nil
	}
	return f.MemoryStore.PostEmail(ctx, m, e)
}

func TestEmailThreadFailuresFallBackToNewTicket(t *testing.T) {
	for name, tc := range map[string]struct {
		backend flakyThreads
		outcome string
	}{
		"lookup error":   {flakyThreads{lookupErr: errors.New("db down")}, "no_match"},
		"append error":   {flakyThreads{postErr: errors.New("lock timeout")}, "merge_failed"},
		"append refused": {flakyThreads{refuse: true}, "merge_failed"},
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			tc.backend.MemoryStore = mem
			fx := newFixture(t, tc.backend)
			fx.mem = mem

			orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))
			got := fx.create(t, models.FormatEmail, reply("<m1@example.com>", "<m2@example.com>", "jane@example.com"))

			assert.NotEqual(t, orig.Number, got.Number)
			assert.Equal(t, 2, mem.TicketCount())
			assert.Equal(t, tc.outcome, (*fx.outcomes)[1])
		})
	}
}

func TestEmailRedeliveryReturnsSameTicket(t *testing.T) {
	fx := newFixture(t, nil)
	orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))

	again := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))

	assert.Equal(t, orig.Number, again.Number)
	assert.Equal(t, 1, fx.mem.TicketCount())
	assert.Equal(t, []string{"no_match", "already_posted"}, []string(*fx.outcomes))

	thread, err := fx.mem.ClientThread(context.Background(), orig.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 1)
}

func TestEmailRedeliveryToClosedTicket(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	orig := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))
	_, err := fx.mem.SetStatus(ctx, orig.ID, store.StatusClosed, "")
	require.NoError(t, err)

	again := fx.create(t, models.FormatEmail, emailFields("<m1@example.com>"))

	assert.Equal(t, orig.Number, again.Number)
	assert.Equal(t, 1, fx.mem.TicketCount())
	after, err := fx.mem.TicketByNumber(ctx, orig.Number)
	require.NoError(t, err)
	assert.True(t, after.IsClosed())
}

// resolvingStatus applies the resolved status whatever is requested.
type resolvingStatus struct{ *store.MemoryStore }

func (r resolvingStatus) SetStatus(ctx context.Context, ticketID int64, _ int, comment string) (bool, error) {
	return r.MemoryStore.SetStatus(ctx, ticketID, store.StatusResolved, comment)
}

func TestChangeStatusReportsAppliedStatus(t *testing.T) {
	mem := store.NewMemoryStore()
	fx := newFixture(t, resolvingStatus{mem})
	fx.mem = mem
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())

	res, err := fx.svc.ChangeStatus(ctx, auth.Caller{}, models.StatusChange{Number: tk.Number, Email: "jane@example.com", StatusID: store.StatusClosed, Comment: "done"})

	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, res.StatusID)
}

func TestChangeStatus(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())
	caller := auth.Caller{Staff: &models.Staff{ID: 7}}

	_, err := fx.svc.ChangeStatus(ctx, caller, models.StatusChange{Number: tk.Number, Email: "jane@example.com", StatusID: store.StatusClosed})
	assert.Equal(t, http.StatusInternalServerError, apierr.Code(err))
	assert.Equal(t, "Unable to change ticket status: comments missing", err.Error())

	_, err = fx.svc.ChangeStatus(ctx, caller, models.StatusChange{Number: tk.Number, Email: "mallory@example.com", StatusID: store.StatusClosed, Comment: "x"})
	assert.Equal(t, http.StatusNotFound, apierr.Code(err))

	_, err = fx.svc.ChangeStatus(ctx, caller, models.StatusChange{Number: "999", Email: "jane@example.com", StatusID: store.StatusClosed, Comment: "x"})
	assert.Equal(t, http.StatusNotFound, apierr.Code(err))

	_, err = fx.svc.ChangeStatus(ctx, caller, models.StatusChange{Number: tk.Number, Email: "jane@example.com", StatusID: 42, Comment: "x"})
	assert.Equal(t, http.StatusInternalServerError, apierr.Code(err))
	assert.Equal(t, "Failed to change ticket status", err.Error())

	res, err := fx.svc.ChangeStatus(ctx, caller, models.StatusChange{Number: tk.Number, Email: "JANE@example.com", StatusID: store.StatusClosed, Comment: "done"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResult{TicketID: tk.ID, StatusID: store.StatusClosed}, res)

	after, err := fx.mem.TicketByNumber(ctx, tk.Number)
	require.NoError(t, err)
	assert.True(t, after.IsClosed())
}

func TestPostMessage(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())

	_, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com"})
	assert.Equal(t, http.StatusBadRequest, apierr.Code(err))
	assert.Equal(t, "Parameter invalid", err.Error())

	_, err = fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "bob@example.com", Message: "hi"})
	assert.Equal(t, http.StatusNotFound, apierr.Code(err))

	id, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com", Message: "thanks"})
	require.NoError(t, err)
	entry, err := fx.mem.ThreadEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "thanks", entry.Body)

	after, err := fx.mem.TicketByNumber(ctx, tk.Number)
	require.NoError(t, err)
	assert.False(t, after.IsClosed())
	assert.False(t, after.IsAnswered)
}

func TestPostMessageClose(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())

	_, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com", Message: "solved, thanks", Close: "true"})
	require.NoError(t, err)

	after, err := fx.mem.TicketByNumber(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, after.StatusID)
	assert.True(t, after.IsAnswered)
}

type stuckStatus struct{ *store.MemoryStore }

func (stuckStatus) SetStatus(context.Context, int64, int, string) (bool, error) {
	return false, errors.New("row locked")
}

func TestPostMessageCloseIsBestEffort(t *testing.T) {
	mem := store.NewMemoryStore()
	fx := newFixture(t, stuckStatus{mem})
	fx.mem = mem
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())

	id, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com", Message: "solved", Close: "true"})

	require.NoError(t, err)
	assert.NotZero(t, id)
	after, err := mem.TicketByNumber(ctx, tk.Number)
	require.NoError(t, err)
	assert.False(t, after.IsClosed())
	assert.True(t, after.IsAnswered)
}

func TestPostMessageStoresAttachmentsOnlyForFoundTicket(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	tk := fx.create(t, models.FormatJSON, jsonFields())
	files := []models.Attachment{{Name: "log.txt", Type: "text/plain", Data: []byte("trace")}}

	_, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "mallory@example.com", Message: "hi", Attachments: files})
	assert.Equal(t, http.StatusNotFound, apierr.Code(err))
	_, err = fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com", Attachments: files})
	assert.Equal(t, http.StatusBadRequest, apierr.Code(err))
	assert.Zero(t, fx.mem.AttachmentCount())

	id, err := fx.svc.PostMessage(ctx, auth.Caller{}, models.MessagePost{Number: tk.Number, Email: "jane@example.com", Message: "log attached", Attachments: files})
	require.NoError(t, err)
	entry, err := fx.mem.ThreadEntry(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entry.Attachments, 1)
	assert.Equal(t, 1, fx.mem.AttachmentCount())
}

func TestReadOperations(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	caller := auth.Caller{Staff: &models.Staff{ID: 1}}
	tk := fx.create(t, models.FormatJSON, jsonFields())
	_, err := fx.mem.SetStatus(ctx, tk.ID, store.StatusOpen, "internal note")
	require.NoError(t, err)

	got, err := fx.svc.GetTicket(ctx, caller, tk.Number, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultDept, got.DeptName)

	thread, err := fx.svc.GetClientThread(ctx, caller, tk.Number, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, models.EntryMessage, thread[0].Type)

	entry, err := fx.svc.GetThreadEntry(ctx, caller, thread[0].ID)
	require.NoError(t, err)
	assert.Equal(t, thread[0].ID, entry.(*models.ThreadEntry).ID)

	missing, err := fx.svc.GetThreadEntry(ctx, caller, 999)
	require.NoError(t, err)
	assert.Equal(t, EntryNotFound{ID: 999, Error: "ThreadEntryNotFound"}, missing)

	list, err := fx.svc.GetTickets(ctx, caller, "jane@example.com")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = fx.svc.GetTickets(ctx, caller, "nobody@example.com")
	assert.Equal(t, http.StatusNotFound, apierr.Code(err))
	assert.Equal(t, "Unable to find the user", err.Error())

	res, err := fx.svc.Search(ctx, caller, models.SearchQuery{Text: "burning"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, tk.Number, res.Results[0].Number)

	res, err = fx.svc.Search(ctx, caller, models.SearchQuery{State: models.StateClosed})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Results)
}

func TestAttachmentURLs(t *testing.T) {
	fx := newFixture(t, nil)
	fx.svc.opts.AttachmentURLBase = "https://files.example.com/a/"

	assert.Equal(t, []string{"https://files.example.com/a/x", "https://files.example.com/a/y"}, fx.svc.attachmentURLs([]string{"x", "y"}))
	assert.Equal(t, []string{}, fx.svc.attachmentURLs(nil))
}

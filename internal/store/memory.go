package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

type staffRow struct {
	staff models.Staff
	hash  []byte
}

// MemoryStore keeps everything in process memory. It backs local runs
// without DB_URL and the package tests.
type MemoryStore struct {
	mu sync.Mutex

	nextTicket, nextEntry, nextUser, nextStaff int64

	tickets     map[int64]*models.Ticket
	entries     map[int64]*models.ThreadEntry
	thread      map[int64][]int64 // ticket id -> entry ids in order
	users       map[string]*models.User
	staff       map[string]*staffRow
	statuses    map[int]status
	attachments map[string]models.Attachment
	banned      map[string]bool

	topics     map[int][]string
	ticketForm []string
	userForm   []string
}

// NewMemoryStore returns an empty store with the default statuses and
// forms.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tickets:     map[int64]*models.Ticket{},
		entries:     map[int64]*models.ThreadEntry{},
		thread:      map[int64][]int64{},
		users:       map[string]*models.User{},
		staff:       map[string]*staffRow{},
		statuses:    map[int]status{},
		attachments: map[string]models.Attachment{},
		banned:      map[string]bool{},
		topics:      map[int][]string{},
		ticketForm:  DefaultTicketForm,
		userForm:    DefaultUserForm,
	}
	for _, s := range defaultStatuses {
		m.statuses[s.id] = s
	}
	return m
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// AddStaff registers a staff member with a bcrypt-hashed password.
func (m *MemoryStore) AddStaff(username, email, password string) (*models.Staff, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStaff++
	row := &staffRow{staff: models.Staff{ID: m.nextStaff, Username: username, Email: normalizeEmail(email)}, hash: hash}
	m.staff[username] = row
	s := row.staff
	return &s, nil
}

// SetTopicForm attaches a form with the given field names to a topic.
func (m *MemoryStore) SetTopicForm(topicID int, fields ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[topicID] = fields
}

// SetForms replaces the global ticket and user forms. Nil removes a form.
func (m *MemoryStore) SetForms(ticketForm, userForm []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticketForm, m.userForm = ticketForm, userForm
}

// Ban rejects ticket creation from email.
func (m *MemoryStore) Ban(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[normalizeEmail(email)] = true
}

// TicketCount returns the number of stored tickets.
func (m *MemoryStore) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

// Attachment returns stored attachment content.
func (m *MemoryStore) Attachment(id string) (models.Attachment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attachments[id]
	return a, ok
}

// AttachmentCount returns the number of stored attachment blobs.
func (m *MemoryStore) AttachmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}

// schema.Registry

func (m *MemoryStore) TopicFormFields(_ context.Context, topicID int) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.topics[topicID]
	return append([]string(nil), f...), ok, nil
}

func (m *MemoryStore) TicketFormFields(context.Context) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ticketForm...), m.ticketForm != nil, nil
}

func (m *MemoryStore) UserFormFields(context.Context) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.userForm...), m.userForm != nil, nil
}

// attachments.Blobs

func (m *MemoryStore) PutAttachment(_ context.Context, id string, file models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file.Data = append([]byte(nil), file.Data...)
	m.attachments[id] = file
	return nil
}

// auth.StaffStore

func (m *MemoryStore) StaffByUsername(_ context.Context, username string) (*models.Staff, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.staff[username]
	if !ok {
		return nil, nil, nil
	}
	s := row.staff
	return &s, row.hash, nil
}

// tickets.Backend

func (m *MemoryStore) CreateTicket(_ context.Context, nt models.NewTicket) (*models.Ticket, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := normalizeEmail(nt.Fields.String("email"))
	if errs := validateNewTicket(nt, m.banned[email]); errs != nil {
		return nil, errs, nil
	}

	u := m.users[email]
	if u == nil {
		m.nextUser++
		u = &models.User{ID: m.nextUser, Email: email, Name: nameOf(nt.Fields)}
		m.users[email] = u
	}

	now := time.Now().UTC()
	m.nextTicket++
	st := m.statuses[StatusOpen]
	t := &models.Ticket{
		ID:         m.nextTicket,
		Number:     ticketNumber(m.nextTicket),
		UserID:     u.ID,
		Email:      email,
		Name:       u.Name,
		StatusID:   st.id,
		State:      st.state,
		Reopenable: st.reopenable,
		Source:     nt.Source,
		TopicID:    nt.Fields.Int("topicId"),
		PriorityID: nt.Fields.Int("priorityId"),
		IP:         nt.Fields.String("ip"),
		Subject:    subjectOf(nt.Fields),
		DeptName:   DefaultDept,
		Created:    now,
		Updated:    now,
	}
	m.tickets[t.ID] = t

	m.appendEntry(t.ID, models.ThreadEntry{
		Type:      models.EntryMessage,
		Poster:    u.Name,
		Body:      nt.Fields.String("message"),
		MessageID: nt.Fields.String("mid"),
	}, nt.Attachments)

	out := *t
	return &out, nil, nil
}

func (m *MemoryStore) TicketByNumber(_ context.Context, number string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.Number == number {
			out := *t
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, ticketID int64, statusID int, comment string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return false, nil
	}
	st, ok := m.statuses[statusID]
	if !ok {
		return false, nil
	}
	m.applyStatus(t, st)
	if comment != "" {
		m.appendEntry(t.ID, models.ThreadEntry{Type: models.EntryNote, Poster: "SYSTEM", Body: comment}, nil)
	}
	return true, nil
}

func (m *MemoryStore) SetAnsweredState(_ context.Context, ticketID int64, answered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[ticketID]; ok {
		t.IsAnswered = answered
		t.Updated = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) ThreadByEmailHeaders(_ context.Context, h models.EmailHeaders) (*models.ThreadMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if match := m.entryByMID(h.MessageID); match != nil {
		match.Posted = true
		return match, nil
	}
	for _, mid := range referencedIDs(h) {
		if match := m.entryByMID(mid); match != nil {
			return match, nil
		}
	}
	return nil, nil
}

// entryByMID returns the oldest entry stored under mid.
func (m *MemoryStore) entryByMID(mid string) *models.ThreadMatch {
	if mid == "" {
		return nil
	}
	var found *models.ThreadEntry
	for _, e := range m.entries {
		if e.MessageID == mid && (found == nil || e.ID < found.ID) {
			found = e
		}
	}
	if found == nil {
		return nil
	}
	t := *m.tickets[found.TicketID]
	return &models.ThreadMatch{EntryID: found.ID, Ticket: &t}
}

func (m *MemoryStore) PostEmail(_ context.Context, match *models.ThreadMatch, email models.InboundEmail) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[match.Ticket.ID]
	if !ok {
		return false, nil
	}
	m.appendEntry(t.ID, models.ThreadEntry{
		Type:      entryTypeOf(email),
		Poster:    posterOf(email),
		Body:      email.Fields.String("message"),
		MessageID: email.Headers.MessageID,
	}, email.Attachments)
	if email.StaffID == 0 && t.IsClosed() {
		m.applyStatus(t, m.statuses[StatusOpen])
	}
	return true, nil
}

func (m *MemoryStore) PostMessage(_ context.Context, ticketID int64, msg models.NewMessage) (*models.ThreadEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, nil
	}
	e := m.appendEntry(t.ID, models.ThreadEntry{
		Type:   models.EntryMessage,
		Poster: msg.Poster,
		Body:   msg.Body,
	}, msg.Attachments)
	if t.IsClosed() {
		m.applyStatus(t, m.statuses[StatusOpen])
	}
	out := *e
	return &out, nil
}

func (m *MemoryStore) ThreadEntry(_ context.Context, id int64) (*models.ThreadEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	out := *e
	out.Attachments = append([]string(nil), e.Attachments...)
	return &out, nil
}

func (m *MemoryStore) ClientThread(_ context.Context, ticketID int64) ([]models.ThreadEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ThreadEntry
	for _, id := range m.thread[ticketID] {
		e := m.entries[id]
		if e.Type == models.EntryNote {
			continue
		}
		c := *e
		c.Attachments = append([]string(nil), e.Attachments...)
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (m *MemoryStore) TicketsByUser(_ context.Context, userID int64) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) StaffByEmail(_ context.Context, email string) (*models.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = normalizeEmail(email)
	for _, row := range m.staff {
		if row.staff.Email == email {
			s := row.staff
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Search(_ context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := strings.ToLower(strings.TrimSpace(q.Text))

	ids := make([]int64, 0, len(m.tickets))
	for id := range m.tickets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.SearchResult
	for _, id := range ids {
		t := m.tickets[id]
		if q.Email != "" && t.Email != normalizeEmail(q.Email) {
			continue
		}
		if q.State != "" && t.State != q.State {
			continue
		}
		if q.Status != 0 && t.StatusID != q.Status {
			continue
		}
		if text != "" && !m.matchesText(t, text) {
			continue
		}
		out = append(out, models.SearchResult{TicketID: t.ID, Number: t.Number, Subject: t.Subject, Email: t.Email, State: t.State})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) matchesText(t *models.Ticket, text string) bool {
	if strings.Contains(strings.ToLower(t.Subject), text) || t.Number == text {
		return true
	}
	for _, id := range m.thread[t.ID] {
		if strings.Contains(strings.ToLower(m.entries[id].Body), text) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) applyStatus(t *models.Ticket, st status) {
	t.StatusID = st.id
	t.State = st.state
	t.Reopenable = st.reopenable
	t.Updated = time.Now().UTC()
}

// appendEntry must be called with mu held.
func (m *MemoryStore) appendEntry(ticketID int64, e models.ThreadEntry, files []models.IngestedAttachment) *models.ThreadEntry {
	m.nextEntry++
	e.ID = m.nextEntry
	e.TicketID = ticketID
	e.Created = time.Now().UTC()
	e.Attachments = []string{}
	for _, f := range files {
		if f.OK() {
			e.Attachments = append(e.Attachments, f.ID)
		}
	}
	m.entries[e.ID] = &e
	m.thread[ticketID] = append(m.thread[ticketID], e.ID)
	return &e
}

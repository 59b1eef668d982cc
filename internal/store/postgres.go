package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer for tickets, threads,
// forms, staff and attachment metadata.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// AddStaff inserts or updates a staff member, storing a bcrypt hash of
// password.
func (p *PostgresStore) AddStaff(ctx context.Context, username, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO staff (username, email, passwd_hash) VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET email = EXCLUDED.email, passwd_hash = EXCLUDED.passwd_hash
	`, username, normalizeEmail(email), hash)
	return err
}

const ticketSelect = `
	SELECT t.id, COALESCE(t.number, ''), t.user_id, u.email, u.name, t.status_id, s.state, s.reopenable,
	       t.isanswered, t.source, t.topic_id, t.priority_id, t.ip_address, t.subject,
	       t.dept_name, t.team_name, t.created_at, t.updated_at
	FROM tickets t
	JOIN users u ON u.id = t.user_id
	JOIN ticket_statuses s ON s.id = t.status_id
`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.Number, &t.UserID, &t.Email, &t.Name, &t.StatusID, &t.State, &t.Reopenable,
		&t.IsAnswered, &t.Source, &t.TopicID, &t.PriorityID, &t.IP, &t.Subject,
		&t.DeptName, &t.TeamName, &t.Created, &t.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// schema.Registry

func (p *PostgresStore) TopicFormFields(ctx context.Context, topicID int) ([]string, bool, error) {
	var formID *int64
	err := p.pool.QueryRow(ctx, `SELECT form_id FROM help_topics WHERE id = $1`, topicID).Scan(&formID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && formID == nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	names, err := p.formFieldNames(ctx, `WHERE f.id = $1`, *formID)
	return names, true, err
}

func (p *PostgresStore) TicketFormFields(ctx context.Context) ([]string, bool, error) {
	return p.globalForm(ctx, "ticket")
}

func (p *PostgresStore) UserFormFields(ctx context.Context) ([]string, bool, error) {
	return p.globalForm(ctx, "user")
}

func (p *PostgresStore) globalForm(ctx context.Context, kind string) ([]string, bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM forms WHERE kind = $1)`, kind).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	names, err := p.formFieldNames(ctx, `WHERE f.kind = $1`, kind)
	return names, true, err
}

func (p *PostgresStore) formFieldNames(ctx context.Context, where string, arg any) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ff.name FROM form_fields ff JOIN forms f ON f.id = ff.form_id
		`+where+` ORDER BY f.id, ff.sort, ff.name`, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// attachments.Blobs

func (p *PostgresStore) PutAttachment(ctx context.Context, id string, f models.Attachment) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO attachments (id, name, mime_type, size, cid, data) VALUES ($1, $2, $3, $4, $5, $6)
	`, id, f.Name, f.Type, int64(len(f.Data)), f.CID, f.Data)
	return err
}

// linkAttachments attaches stored files to an entry. Rows are created for
// files whose content lives in another blob backend.
func linkAttachments(ctx context.Context, q querier, entryID int64, files []models.IngestedAttachment) error {
	for _, f := range files {
		if !f.OK() {
			continue
		}
		_, err := q.Exec(ctx, `
			INSERT INTO attachments (id, entry_id, name, mime_type, size, cid) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET entry_id = EXCLUDED.entry_id
		`, f.ID, entryID, f.Name, f.Type, f.Size, f.CID)
		if err != nil {
			return fmt.Errorf("link attachment %s: %w", f.ID, err)
		}
	}
	return nil
}

// auth.StaffStore

func (p *PostgresStore) StaffByUsername(ctx context.Context, username string) (*models.Staff, []byte, error) {
	var s models.Staff
	var hash []byte
	err := p.pool.QueryRow(ctx, `SELECT id, username, email, passwd_hash FROM staff WHERE username = $1`, username).
		Scan(&s.ID, &s.Username, &s.Email, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &s, hash, nil
}

func (p *PostgresStore) StaffByEmail(ctx context.Context, email string) (*models.Staff, error) {
	var s models.Staff
	err := p.pool.QueryRow(ctx, `SELECT id, username, email FROM staff WHERE lower(email) = $1 LIMIT 1`, normalizeEmail(email)).
		Scan(&s.ID, &s.Username, &s.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// tickets.Backend

func (p *PostgresStore) CreateTicket(ctx context.Context, nt models.NewTicket) (*models.Ticket, map[string]string, error) {
	email := normalizeEmail(nt.Fields.String("email"))

	var banned bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM banned_emails WHERE email = $1)`, email).Scan(&banned); err != nil {
		return nil, nil, err
	}
	if errs := validateNewTicket(nt, banned); errs != nil {
		return nil, errs, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, name) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email, nameOf(nt.Fields)).Scan(&userID)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert user: %w", err)
	}

	var ticketID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO tickets (user_id, status_id, source, topic_id, priority_id, ip_address, subject, dept_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, userID, StatusOpen, nt.Source, nt.Fields.Int("topicId"), nt.Fields.Int("priorityId"),
		nt.Fields.String("ip"), subjectOf(nt.Fields), DefaultDept).Scan(&ticketID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert ticket: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tickets SET number = $2 WHERE id = $1`, ticketID, ticketNumber(ticketID)); err != nil {
		return nil, nil, fmt.Errorf("number ticket: %w", err)
	}

	entry := models.ThreadEntry{
		Type:      models.EntryMessage,
		Poster:    nameOf(nt.Fields),
		Body:      nt.Fields.String("message"),
		MessageID: nt.Fields.String("mid"),
	}
	if _, err := insertEntry(ctx, tx, ticketID, entry, nt.Fields.String("ip"), nt.Attachments); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	t, err := scanTicket(p.pool.QueryRow(ctx, ticketSelect+` WHERE t.id = $1`, ticketID))
	return t, nil, err
}

func insertEntry(ctx context.Context, q querier, ticketID int64, e models.ThreadEntry, ip string, files []models.IngestedAttachment) (*models.ThreadEntry, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO thread_entries (ticket_id, type, poster, body, mid, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, ticketID, e.Type, e.Poster, e.Body, e.MessageID, ip).Scan(&e.ID, &e.Created)
	if err != nil {
		return nil, fmt.Errorf("insert thread entry: %w", err)
	}
	e.TicketID = ticketID
	if err := linkAttachments(ctx, q, e.ID, files); err != nil {
		return nil, err
	}
	e.Attachments = models.StoredIDs(files)
	return &e, nil
}

func (p *PostgresStore) TicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	return scanTicket(p.pool.QueryRow(ctx, ticketSelect+` WHERE t.number = $1`, number))
}

func (p *PostgresStore) SetStatus(ctx context.Context, ticketID int64, statusID int, comment string) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE tickets SET status_id = $2, updated_at = now()
		WHERE id = $1 AND EXISTS (SELECT 1 FROM ticket_statuses WHERE id = $2)
	`, ticketID, statusID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if comment != "" {
		note := models.ThreadEntry{Type: models.EntryNote, Poster: "SYSTEM", Body: comment}
		if _, err := insertEntry(ctx, tx, ticketID, note, "", nil); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (p *PostgresStore) SetAnsweredState(ctx context.Context, ticketID int64, answered bool) error {
	_, err := p.pool.Exec(ctx, `UPDATE tickets SET isanswered = $2, updated_at = now() WHERE id = $1`, ticketID, answered)
	return err
}

func (p *PostgresStore) ThreadByEmailHeaders(ctx context.Context, h models.EmailHeaders) (*models.ThreadMatch, error) {
	match, err := p.entryByMID(ctx, h.MessageID)
	if err != nil || match != nil {
		if match != nil {
			match.Posted = true
		}
		return match, err
	}
	for _, mid := range referencedIDs(h) {
		if match, err := p.entryByMID(ctx, mid); err != nil || match != nil {
			return match, err
		}
	}
	return nil, nil
}

func (p *PostgresStore) entryByMID(ctx context.Context, mid string) (*models.ThreadMatch, error) {
	if mid == "" {
		return nil, nil
	}
	var entryID, ticketID int64
	err := p.pool.QueryRow(ctx, `SELECT id, ticket_id FROM thread_entries WHERE mid = $1 ORDER BY id LIMIT 1`, mid).
		Scan(&entryID, &ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := scanTicket(p.pool.QueryRow(ctx, ticketSelect+` WHERE t.id = $1`, ticketID))
	if err != nil || t == nil {
		return nil, err
	}
	return &models.ThreadMatch{EntryID: entryID, Ticket: t}, nil
}

func (p *PostgresStore) PostEmail(ctx context.Context, match *models.ThreadMatch, email models.InboundEmail) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock so a concurrent status change cannot interleave.
	var state string
	err = tx.QueryRow(ctx, `
		SELECT s.state FROM tickets t JOIN ticket_statuses s ON s.id = t.status_id
		WHERE t.id = $1 FOR UPDATE OF t NOWAIT
	`, match.Ticket.ID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	entry := models.ThreadEntry{
		Type:      entryTypeOf(email),
		Poster:    posterOf(email),
		Body:      email.Fields.String("message"),
		MessageID: email.Headers.MessageID,
	}
	if _, err := insertEntry(ctx, tx, match.Ticket.ID, entry, email.Fields.String("ip"), email.Attachments); err != nil {
		return false, err
	}
	if email.StaffID == 0 && state == models.StateClosed {
		if _, err := tx.Exec(ctx, `UPDATE tickets SET status_id = $2, updated_at = now() WHERE id = $1`, match.Ticket.ID, StatusOpen); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (p *PostgresStore) PostMessage(ctx context.Context, ticketID int64, m models.NewMessage) (*models.ThreadEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry := models.ThreadEntry{Type: models.EntryMessage, Poster: m.Poster, Body: m.Body}
	e, err := insertEntry(ctx, tx, ticketID, entry, m.IP, m.Attachments)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE tickets SET status_id = $2, updated_at = now()
		WHERE id = $1 AND status_id IN (SELECT id FROM ticket_statuses WHERE state = 'closed')
	`, ticketID, StatusOpen)
	if err != nil {
		return nil, err
	}
	return e, tx.Commit(ctx)
}

const entrySelect = `
	SELECT e.id, e.ticket_id, e.type, e.poster, e.body, e.mid, e.created_at,
	       COALESCE(array_agg(a.id::text ORDER BY a.created_at) FILTER (WHERE a.id IS NOT NULL), '{}')
	FROM thread_entries e
	LEFT JOIN attachments a ON a.entry_id = e.id
`

func scanEntry(row pgx.Row) (models.ThreadEntry, error) {
	var e models.ThreadEntry
	err := row.Scan(&e.ID, &e.TicketID, &e.Type, &e.Poster, &e.Body, &e.MessageID, &e.Created, &e.Attachments)
	return e, err
}

func (p *PostgresStore) ThreadEntry(ctx context.Context, id int64) (*models.ThreadEntry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, entrySelect+` WHERE e.id = $1 GROUP BY e.id`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) ClientThread(ctx context.Context, ticketID int64) ([]models.ThreadEntry, error) {
	rows, err := p.pool.Query(ctx, entrySelect+` WHERE e.ticket_id = $1 AND e.type <> 'N' GROUP BY e.id ORDER BY e.id`, ticketID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.ThreadEntry, error) {
		return scanEntry(r)
	})
}

func (p *PostgresStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := p.pool.QueryRow(ctx, `SELECT id, email, name FROM users WHERE email = $1`, normalizeEmail(email)).
		Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) TicketsByUser(ctx context.Context, userID int64) ([]models.Ticket, error) {
	rows, err := p.pool.Query(ctx, ticketSelect+` WHERE t.user_id = $1 ORDER BY t.id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.Ticket, error) {
		t, err := scanTicket(r)
		if err != nil {
			return models.Ticket{}, err
		}
		return *t, nil
	})
}

func (p *PostgresStore) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if text := strings.TrimSpace(q.Text); text != "" {
		like := arg("%" + text + "%")
		where = append(where, fmt.Sprintf(`(t.subject ILIKE %[1]s OR t.number = %[2]s OR EXISTS (
			SELECT 1 FROM thread_entries e WHERE e.ticket_id = t.id AND e.body ILIKE %[1]s))`, like, arg(text)))
	}
	if q.Email != "" {
		where = append(where, "u.email = "+arg(normalizeEmail(q.Email)))
	}
	if q.State != "" {
		where = append(where, "s.state = "+arg(q.State))
	}
	if q.Status != 0 {
		where = append(where, "t.status_id = "+arg(q.Status))
	}

	sql := `SELECT t.id, t.number, t.subject, u.email, s.state
		FROM tickets t JOIN users u ON u.id = t.user_id JOIN ticket_statuses s ON s.id = t.status_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY t.id"
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.SearchResult, error) {
		var s models.SearchResult
		err := r.Scan(&s.TicketID, &s.Number, &s.Subject, &s.Email, &s.State)
		return s, err
	})
}

package models

import "time"

// Ticket states as stored on the ticket status.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Ticket is the handle the gateway works with. Subject, DeptName and
// TeamName are display fields filled in when a ticket is read.
type Ticket struct {
	ID         int64     `json:"ticket_id"`
	Number     string    `json:"number"`
	UserID     int64     `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	StatusID   int       `json:"status_id"`
	State      string    `json:"state"`
	Reopenable bool      `json:"reopenable"`
	IsAnswered bool      `json:"isanswered"`
	Source     string    `json:"source"`
	TopicID    int       `json:"topic_id,omitempty"`
	PriorityID int       `json:"priority_id,omitempty"`
	IP         string    `json:"ip_address,omitempty"`
	Subject    string    `json:"subject"`
	DeptName   string    `json:"dept_name"`
	TeamName   string    `json:"team_name"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// IsClosed reports whether the ticket's status is in the closed state.
func (t *Ticket) IsClosed() bool {
	return t.State == StateClosed
}

// Thread entry types.
const (
	EntryMessage  = "M"
	EntryResponse = "R"
	EntryNote     = "N"
)

// ThreadEntry is one item of a ticket's conversation.
type ThreadEntry struct {
	ID          int64     `json:"id"`
	TicketID    int64     `json:"ticket_id"`
	Type        string    `json:"type"`
	Poster      string    `json:"poster"`
	Body        string    `json:"body"`
	MessageID   string    `json:"mid,omitempty"`
	Created     time.Time `json:"created"`
	Attachments []string  `json:"attachments"`
}

// ThreadMatch is the result of a header lookup: the entry the email refers
// to and the ticket that owns it. Posted is set when the entry is the email
// itself, matched by its own Message-ID.
type ThreadMatch struct {
	EntryID int64
	Ticket  *Ticket
	Posted  bool
}

// User is a ticket owner (end user).
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Staff is an authenticated agent identity.
type Staff struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// NewTicket is the input of the ticket-creation primitive.
type NewTicket struct {
	Fields      Fields
	Source      string
	Alert       bool
	Autorespond bool
	StaffID     int64
	Attachments []IngestedAttachment
}

// StatusChange asks for a ticket status transition.
type StatusChange struct {
	Number   string
	Email    string
	StatusID int
	Comment  string
}

// StatusResult is returned by a successful status transition.
type StatusResult struct {
	TicketID int64 `json:"ticket_id"`
	StatusID int   `json:"status_id"`
}

// MessagePost adds a client message to an existing ticket. Close equal to
// "true" resolves the ticket after posting. Attachments are stored only
// once the ticket is found.
type MessagePost struct {
	Number      string
	Email       string
	Message     string
	IP          string
	Close       string
	Attachments []Attachment
}

// EmailHeaders are the threading headers of an inbound email.
type EmailHeaders struct {
	MessageID  string
	InReplyTo  string
	References []string
}

// Empty reports whether no threading header is set.
func (h EmailHeaders) Empty() bool {
	return h.MessageID == "" && h.InReplyTo == "" && len(h.References) == 0
}

// SearchResult is one hit of a ticket search.
type SearchResult struct {
	TicketID int64  `json:"ticket_id"`
	Number   string `json:"number"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	State    string `json:"state"`
}

// InboundEmail is an email to append to an existing thread.
type InboundEmail struct {
	Fields      Fields
	Headers     EmailHeaders
	StaffID     int64
	Attachments []IngestedAttachment
}

// NewMessage is a client message posted through the API.
type NewMessage struct {
	Poster      string
	Body        string
	IP          string
	Attachments []IngestedAttachment
}

// SearchQuery filters a ticket search. Empty fields do not filter.
type SearchQuery struct {
	Text   string
	Email  string
	State  string
	Status int
	Limit  int
}

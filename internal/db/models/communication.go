// Package models - communication.go defines circulars, notices and the
// per-recipient and per-class rows linking them to their audience.
package models

import (
	"time"
)

// Publication states shared by circulars and notices.
const (
	StatusDraft     = "B"
	StatusPublished = "P"
)

// Notice kinds. Kinds V and P are agenda events (tests and homework).
const (
	NoticeGeneric    = "C"
	NoticeEntry      = "E"
	NoticeExit       = "U"
	NoticeActivity   = "A"
	NoticeIndividual = "I"
	NoticeTest       = "V"
	NoticeHomework   = "P"
)

// Class is a school class (e.g. 3A)
type Class struct {
	ID      int64  `db:"id"`
	Year    int    `db:"year"`
	Section string `db:"section"`
}

func (c *Class) EntityID() int64      { return c.ID }
func (c *Class) SetEntityID(id int64) { c.ID = id }

// Circular is a numbered circular letter addressed to groups of users
type Circular struct {
	ID          int64     `db:"id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	SchoolYear  int       `db:"school_year"`
	Number      int       `db:"number"`
	Date        time.Time `db:"date"`
	Title       string    `db:"title"`
	Status      string    `db:"status"`
	AllTeachers bool      `db:"all_teachers"`
	AuthorID    *int64    `db:"author_id"`

	Author  *User    `db:"-"`
	Classes []*Class `db:"-"`
}

func (c *Circular) EntityID() int64      { return c.ID }
func (c *Circular) SetEntityID(id int64) { c.ID = id }

// Published reports whether the circular is visible to its recipients.
func (c *Circular) Published() bool { return c.Status == StatusPublished }

// Notice is an announcement, including agenda events (tests, homework)
type Notice struct {
	ID          int64      `db:"id"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	Kind        string     `db:"kind"`
	Date        time.Time  `db:"date"`
	Title       string     `db:"title"`
	Text        string     `db:"text"`
	Attachments StringList `db:"attachments"`
	Status      string     `db:"status"`
	AuthorID    *int64     `db:"author_id"`
}

func (n *Notice) EntityID() int64      { return n.ID }
func (n *Notice) SetEntityID(id int64) { n.ID = id }

// Published reports whether the notice is visible to its recipients.
func (n *Notice) Published() bool { return n.Status == StatusPublished }

// IsEvent reports whether the notice is an agenda event.
func (n *Notice) IsEvent() bool { return n.Kind == NoticeTest || n.Kind == NoticeHomework }

// NotificationType maps the notice kind to the notification type users subscribe to.
func (n *Notice) NotificationType() string {
	switch n.Kind {
	case NoticeTest:
		return "verifica"
	case NoticeHomework:
		return "compito"
	}
	return "avviso"
}

// CircularRecipient links a communication to one user and records when it was read
type CircularRecipient struct {
	ID              int64      `db:"id"`
	CommunicationID int64      `db:"communication_id"`
	UserID          int64      `db:"user_id"`
	ReadAt          *time.Time `db:"read_at"`
}

func (r *CircularRecipient) EntityID() int64      { return r.ID }
func (r *CircularRecipient) SetEntityID(id int64) { r.ID = id }

// CircularClass links a communication to a class
type CircularClass struct {
	ID              int64      `db:"id"`
	CommunicationID int64      `db:"communication_id"`
	ClassID         int64      `db:"class_id"`
	ReadAt          *time.Time `db:"read_at"`
}

func (c *CircularClass) EntityID() int64      { return c.ID }
func (c *CircularClass) SetEntityID(id int64) { c.ID = id }

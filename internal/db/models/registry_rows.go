// Package models - registry_rows.go defines high-volume and provisioning rows that
// are persisted like any other entity but never captured by the change audit.
package models

import "time"

// LessonAbsence links a student to one lesson they missed
type LessonAbsence struct {
	ID        int64 `db:"id"`
	LessonID  int64 `db:"lesson_id"`
	StudentID int64 `db:"student_id"`
}

func (a *LessonAbsence) EntityID() int64      { return a.ID }
func (a *LessonAbsence) SetEntityID(id int64) { a.ID = id }

// Provisioning is a pending account-provisioning command for external services
type Provisioning struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UserID    int64     `db:"user_id"`
	Command   string    `db:"command"`
	Data      JSONMap   `db:"data"`
}

func (p *Provisioning) EntityID() int64      { return p.ID }
func (p *Provisioning) SetEntityID(id int64) { p.ID = id }

// FederatedLogin records a login through the national identity federation
type FederatedLogin struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Subject   string    `db:"subject"`
	Username  string    `db:"username"`
}

func (f *FederatedLogin) EntityID() int64      { return f.ID }
func (f *FederatedLogin) SetEntityID(id int64) { f.ID = id }

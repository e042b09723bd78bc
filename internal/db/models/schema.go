// Package models - schema.go builds the field-descriptor table for every
// persisted entity. The table is created once at startup and shared read-only.
package models

import (
	"github.com/school-registry/registro/internal/db/schema"
)

// Entity type names as they appear in audit rows.
const (
	EntityAuditLog          = "AuditLog"
	EntityUser              = "User"
	EntityClass             = "Class"
	EntityCircular          = "Circular"
	EntityNotice            = "Notice"
	EntityCircularRecipient = "CircularRecipient"
	EntityCircularClass     = "CircularClass"
	EntityLessonAbsence     = "LessonAbsence"
	EntityProvisioning      = "Provisioning"
	EntityFederatedLogin    = "FederatedLogin"
)

// NewSchema returns the descriptor registry for all persisted models.
func NewSchema() *schema.Registry {
	r := schema.NewRegistry()

	r.Register(&AuditLog{}, EntityAuditLog, "audit_logs",
		schema.Column("id", "id", func(a *AuditLog) any { return a.ID }),
		schema.Column("created_at", "created_at", func(a *AuditLog) any { return a.CreatedAt }),
		schema.Column("user_id", "user_id", func(a *AuditLog) any { return a.UserID }),
		schema.Column("username", "username", func(a *AuditLog) any { return a.Username }),
		schema.Column("role", "role", func(a *AuditLog) any { return a.Role }),
		schema.Column("alias", "alias", func(a *AuditLog) any { return a.Alias }),
		schema.Column("ip_address", "ip_address", func(a *AuditLog) any { return a.IPAddress }),
		schema.Column("origin", "origin", func(a *AuditLog) any { return a.Origin }),
		schema.Column("kind", "kind", func(a *AuditLog) any { return string(a.Kind) }),
		schema.Column("category", "category", func(a *AuditLog) any { return a.Category }),
		schema.Column("action", "action", func(a *AuditLog) any { return a.Action }),
		schema.Column("entity_type", "entity_type", func(a *AuditLog) any { return a.EntityType }),
		schema.Column("entity_id", "entity_id", func(a *AuditLog) any { return a.TargetID }),
		schema.Column("data", "data", func(a *AuditLog) any { return a.Data }),
	)

	r.Register(&User{}, EntityUser, "users",
		schema.Column("id", "id", func(u *User) any { return u.ID }),
		schema.Column("created_at", "created_at", func(u *User) any { return u.CreatedAt }),
		schema.Column("updated_at", "updated_at", func(u *User) any { return u.UpdatedAt }),
		schema.Column("username", "username", func(u *User) any { return u.Username }),
		schema.Column("email", "email", func(u *User) any { return u.Email }),
		schema.Column("first_name", "first_name", func(u *User) any { return u.FirstName }),
		schema.Column("last_name", "last_name", func(u *User) any { return u.LastName }),
		schema.Column("role", "role", func(u *User) any { return u.Role }),
		schema.Column("enabled", "enabled", func(u *User) any { return u.Enabled }),
		schema.Column("chat_id", "chat_id", func(u *User) any { return u.ChatID }),
		schema.Column("notification", "notification", func(u *User) any { return u.Notification }),
	)

	r.Register(&Class{}, EntityClass, "classes",
		schema.Column("id", "id", func(c *Class) any { return c.ID }),
		schema.Column("year", "year", func(c *Class) any { return c.Year }),
		schema.Column("section", "section", func(c *Class) any { return c.Section }),
	)

	r.Register(&Circular{}, EntityCircular, "circulars",
		schema.Column("id", "id", func(c *Circular) any { return c.ID }),
		schema.Column("created_at", "created_at", func(c *Circular) any { return c.CreatedAt }),
		schema.Column("updated_at", "updated_at", func(c *Circular) any { return c.UpdatedAt }),
		schema.Column("school_year", "school_year", func(c *Circular) any { return c.SchoolYear }),
		schema.Column("number", "number", func(c *Circular) any { return c.Number }),
		schema.Column("date", "date", func(c *Circular) any { return c.Date }),
		schema.Column("title", "title", func(c *Circular) any { return c.Title }),
		schema.Column("status", "status", func(c *Circular) any { return c.Status }),
		schema.Column("all_teachers", "all_teachers", func(c *Circular) any { return c.AllTeachers }),
		schema.Column("author", "author_id", func(c *Circular) any {
			if c.Author != nil {
				return c.Author
			}
			return c.AuthorID
		}),
		schema.Association("classes", func(c *Circular) (any, error) {
			out := make([]schema.Entity, 0, len(c.Classes))
			for _, cl := range c.Classes {
				out = append(out, cl)
			}
			return out, nil
		}),
	)

	r.Register(&Notice{}, EntityNotice, "notices",
		schema.Column("id", "id", func(n *Notice) any { return n.ID }),
		schema.Column("created_at", "created_at", func(n *Notice) any { return n.CreatedAt }),
		schema.Column("updated_at", "updated_at", func(n *Notice) any { return n.UpdatedAt }),
		schema.Column("kind", "kind", func(n *Notice) any { return n.Kind }),
		schema.Column("date", "date", func(n *Notice) any { return n.Date }),
		schema.Column("title", "title", func(n *Notice) any { return n.Title }),
		schema.Column("text", "text", func(n *Notice) any { return n.Text }),
		schema.Column("attachments", "attachments", func(n *Notice) any { return []string(n.Attachments) }),
		schema.Column("status", "status", func(n *Notice) any { return n.Status }),
		schema.Column("author", "author_id", func(n *Notice) any { return n.AuthorID }),
	)

	r.Register(&CircularRecipient{}, EntityCircularRecipient, "communication_users",
		schema.Column("id", "id", func(c *CircularRecipient) any { return c.ID }),
		schema.Column("communication", "communication_id", func(c *CircularRecipient) any { return c.CommunicationID }),
		schema.Column("user", "user_id", func(c *CircularRecipient) any { return c.UserID }),
		schema.Column("read_at", "read_at", func(c *CircularRecipient) any { return c.ReadAt }),
	)

	r.Register(&CircularClass{}, EntityCircularClass, "communication_classes",
		schema.Column("id", "id", func(c *CircularClass) any { return c.ID }),
		schema.Column("communication", "communication_id", func(c *CircularClass) any { return c.CommunicationID }),
		schema.Column("class", "class_id", func(c *CircularClass) any { return c.ClassID }),
		schema.Column("read_at", "read_at", func(c *CircularClass) any { return c.ReadAt }),
	)

	r.Register(&LessonAbsence{}, EntityLessonAbsence, "lesson_absences",
		schema.Column("id", "id", func(a *LessonAbsence) any { return a.ID }),
		schema.Column("lesson", "lesson_id", func(a *LessonAbsence) any { return a.LessonID }),
		schema.Column("student", "student_id", func(a *LessonAbsence) any { return a.StudentID }),
	)

	r.Register(&Provisioning{}, EntityProvisioning, "provisioning",
		schema.Column("id", "id", func(p *Provisioning) any { return p.ID }),
		schema.Column("created_at", "created_at", func(p *Provisioning) any { return p.CreatedAt }),
		schema.Column("user", "user_id", func(p *Provisioning) any { return p.UserID }),
		schema.Column("command", "command", func(p *Provisioning) any { return p.Command }),
		schema.Column("data", "data", func(p *Provisioning) any { return p.Data }),
	)

	r.Register(&FederatedLogin{}, EntityFederatedLogin, "federated_logins",
		schema.Column("id", "id", func(f *FederatedLogin) any { return f.ID }),
		schema.Column("created_at", "created_at", func(f *FederatedLogin) any { return f.CreatedAt }),
		schema.Column("subject", "subject", func(f *FederatedLogin) any { return f.Subject }),
		schema.Column("username", "username", func(f *FederatedLogin) any { return f.Username }),
	)

	return r
}

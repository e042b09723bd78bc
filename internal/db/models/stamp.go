package models

import "time"

// Stamp maintains the audit timestamps; the unit of work calls it before
// every insert (created=true) and update.

func (u *User) Stamp(now time.Time, created bool) {
	if created {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

func (c *Circular) Stamp(now time.Time, created bool) {
	if created {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func (n *Notice) Stamp(now time.Time, created bool) {
	if created {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
}

func (p *Provisioning) Stamp(now time.Time, created bool) {
	if created {
		p.CreatedAt = now
	}
}

func (f *FederatedLogin) Stamp(now time.Time, created bool) {
	if created {
		f.CreatedAt = now
	}
}

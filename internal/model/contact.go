package model

import (
	"strings"
	"time"
)

type Contact struct {
	ID            int        `db:"id" json:"id"`
	Phone         string     `db:"phone" json:"phone"`
	Name          string     `db:"name" json:"name"`
	HasOptedIn    bool       `db:"has_opted_in" json:"has_opted_in"`
	OptInDate     *time.Time `db:"opt_in_date" json:"opt_in_date,omitempty"`
	Tags          string     `db:"tags" json:"tags"`
	LastContactAt *time.Time `db:"last_contact_at" json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// TagList splits the comma-joined tags, dropping blanks.
func (c *Contact) TagList() []string {
	var tags []string
	for _, t := range strings.Split(c.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

package domain

import "time"

// ContactStatus is the contact subscription state.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

// Contact is a recipient. Email is the unique send identity. Only Active
// contacts are eligible recipients; the engine never mutates contacts.
type Contact struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Status    ContactStatus
	ListIDs   []string
	Tags      []string
	CreatedAt time.Time
}

// FullName joins first and last name, tolerating either being empty.
func (c *Contact) FullName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	default:
		return c.LastName
	}
}

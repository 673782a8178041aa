package domain

import "strings"

// User is a persisted identity. Persona is nil when the user has never had a
// persona stored, in which case the process default applies.
type User struct {
	ID      int64
	Name    string
	Persona *string
}

// HasPersona reports whether the user carries a non-blank persona of their own.
func (u User) HasPersona() bool {
	return u.Persona != nil && strings.TrimSpace(*u.Persona) != ""
}

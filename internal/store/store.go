// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"database/sql"
	"strings"
)

// DefaultMediaURLPrefix is where attachment paths are served from.
const DefaultMediaURLPrefix = "/media/"

// Store provides all functions to interact with the database.
type Store struct {
	db          *sql.DB
	mediaPrefix string
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db, mediaPrefix: DefaultMediaURLPrefix}
}

// WithMediaURLPrefix sets the URL prefix joined to stored attachment paths.
func (s *Store) WithMediaURLPrefix(prefix string) *Store {
	if prefix == "" {
		prefix = DefaultMediaURLPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s.mediaPrefix = prefix
	return s
}

// AttachmentURL maps a path relative to the media root to its public URL.
func (s *Store) AttachmentURL(path string) string {
	return s.mediaPrefix + strings.TrimPrefix(path, "/")
}

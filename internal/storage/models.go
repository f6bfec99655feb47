package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested company does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorruptState is returned when the database file or one of its rows
	// cannot be read back into a record.
	ErrCorruptState = errors.New("corrupt local state")

	// ErrRemoteRefChanged is returned when an upsert would clear or replace
	// a company's stored remote ref.
	ErrRemoteRefChanged = errors.New("remote ref cannot change once set")
)

// isCorrupt reports whether a driver error means the file itself is unreadable.
func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

type companyRow struct {
	key                 string
	name                string
	status              string
	lastInteractionType string
	lastInteractionAt   string
	remoteRef           string
	createdAt           string
	updatedAt           string
}

type noteRow struct {
	id            string
	companyKey    string
	seq           int
	at            string
	source        string
	text          string
	companyGuess  string
	ignoredStatus string
	keyPoints     string
	synced        bool
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert violates a uniqueness
// constraint, e.g. creating a second user with the same username.
var ErrAlreadyExists = errors.New("already exists")

// User is an identity record. IDs are assigned by the store and usernames
// are unique and case-sensitive. Users are never deleted or renamed.
type User struct {
	ID       int64
	Username string
}

// ChatEntry is one immutable turn of conversation: the user's message and
// the assistant's response, stamped by the store at insert time.
type ChatEntry struct {
	ID        int64
	UserID    int64
	Message   string
	Response  string
	Timestamp time.Time
}
